package source

import (
	"context"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/connector"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// JSONAPI reads prices from a ticker REST endpoint returning an array of
// symbol and price pairs, the common exchange API shape.
type JSONAPI struct {
	name    string
	url     string
	assets  []string
	retry   config.Retry
	symbols map[string]string
}

type jsonAPITicker struct {
	Symbol string              `json:"symbol"`
	Price  jsoniter.RawMessage `json:"price"`
}

func newJSONAPI(cfg *config.Source) (*JSONAPI, error) {
	j := &JSONAPI{
		name:    cfg.Name,
		url:     cfg.URL,
		assets:  cfg.Assets,
		retry:   cfg.Retry,
		symbols: make(map[string]string, len(cfg.Assets)),
	}
	// Reverse lookup from upstream symbol to asset code.
	for asset, symbol := range cfg.Symbols {
		j.symbols[strings.ToUpper(symbol)] = strings.ToLower(asset)
	}
	if len(j.symbols) == 0 {
		return nil, errors.Errorf("source %v: symbols mapping should not be empty", cfg.Name)
	}
	return j, nil
}

// Name returns the configured source name.
func (j *JSONAPI) Name() string {
	return j.name
}

// Assets returns the assets this source is configured to serve.
func (j *JSONAPI) Assets() []string {
	return j.assets
}

// Fetch queries the ticker endpoint once and picks the requested assets
// out of the response. A malformed entry is skipped, the others still
// populate the result.
func (j *JSONAPI) Fetch(ctx context.Context, assets []string) (map[string]float64, error) {
	rest, err := connector.GetREST()
	if err != nil {
		return nil, err
	}

	var tickers []jsonAPITicker
	err = withRetry(ctx, j.retry, func() error {
		req, err := rest.Request(ctx, j.url)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := rest.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		tickers = tickers[:0]
		return jsoniter.NewDecoder(resp.Body).Decode(&tickers)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "source %v: ticker fetch", j.name)
	}

	wanted := requested(j.assets, assets)
	prices := map[string]float64{}
	for _, ticker := range tickers {
		asset, ok := j.symbols[strings.ToUpper(ticker.Symbol)]
		if !ok || !wanted[asset] {
			continue
		}
		// Price comes as either a JSON string or a bare number.
		raw := strings.Trim(string(ticker.Price), `"`)
		price, err := ParsePrice(raw)
		if err != nil {
			log.Debug().Err(err).Str("source", j.name).Str("asset", asset).Msg("discarding unparsable price")
			continue
		}
		prices[asset] = price
	}
	return prices, nil
}
