package source

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Source is one upstream method of obtaining prices.
//
// Fetch returns a partial mapping from lowercase asset code to validated
// positive price for the requested assets. Assets the source could not
// obtain this cycle are simply absent from the result, a total transport
// failure returns an error and no data. Implementations are stateless
// across calls, bound by the caller's context and never store a
// non-positive or non-finite value in the result.
type Source interface {
	Name() string
	Assets() []string
	Fetch(ctx context.Context, assets []string) (map[string]float64, error)
}

// New creates a source from its config values.
func New(cfg *config.Source, connCfg *config.Connection) (Source, error) {
	switch cfg.Kind {
	case "textpage":
		return newTextPage(cfg)
	case "jsonapi":
		return newJSONAPI(cfg)
	case "htmltable":
		return newHTMLTable(cfg)
	case "browser":
		return newBrowser(cfg)
	case "wsticker":
		return newWsTicker(cfg, &connCfg.WS)
	default:
		return nil, errors.Errorf("unknown source kind: %v", cfg.Kind)
	}
}

// ParsePrice defensively converts untrusted price text to a number.
// Thousands separators and surrounding junk are stripped before the
// conversion, zero, negative and non-finite results are rejected.
func ParsePrice(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return 0, errors.New("empty price text")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "not able to parse price %q", raw)
	}
	if d.Sign() <= 0 {
		return 0, errors.Errorf("non-positive price %q", raw)
	}

	price, _ := d.Float64()
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, errors.Errorf("non-finite price %q", raw)
	}
	return price, nil
}

// withRetry retries op on transient failures with an exponential gap,
// bounded by the configured retry number and the cycle context.
func withRetry(ctx context.Context, retry config.Retry, op func() error) error {
	if retry.Number <= 0 {
		return op()
	}
	bo := backoff.NewExponentialBackOff()
	if retry.GapSec > 0 {
		bo.InitialInterval = time.Duration(retry.GapSec) * time.Second
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retry.Number)), ctx))
}

// requested builds the lookup of assets wanted this cycle, restricted to
// the assets the source is configured to serve.
func requested(serves, assets []string) map[string]bool {
	wanted := make(map[string]bool, len(assets))
	for _, asset := range assets {
		asset = strings.ToLower(asset)
		for _, s := range serves {
			if s == asset {
				wanted[asset] = true
				break
			}
		}
	}
	return wanted
}

// logErrStack logs error with stack trace.
func logErrStack(err error) {
	log.Error().Stack().Err(errors.WithStack(err)).Msg("")
}
