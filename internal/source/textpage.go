package source

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/connector"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TextPage extracts prices from the text of a rendered page with one
// regex per asset. The page is fetched through a reader proxy that
// renders javascript server side, so a plain GET is enough.
type TextPage struct {
	name      string
	url       string
	assets    []string
	cacheBust bool
	retry     config.Retry
	patterns  map[string]*regexp.Regexp
}

func newTextPage(cfg *config.Source) (*TextPage, error) {
	t := &TextPage{
		name:      cfg.Name,
		url:       cfg.URL,
		assets:    cfg.Assets,
		cacheBust: cfg.CacheBust,
		retry:     cfg.Retry,
		patterns:  make(map[string]*regexp.Regexp, len(cfg.Assets)),
	}
	for _, asset := range cfg.Assets {
		pattern, ok := cfg.Patterns[asset]
		if !ok {
			// Rendered quote pages show pairs as "XAU / USD ==== 3,400.50".
			pattern = `(?im)` + regexp.QuoteMeta(strings.ToUpper(asset)) + `\s*/\s*USD\s*=+\s*([\d,]+\.?\d*)`
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "source %v: not able to compile pattern for asset %v", cfg.Name, asset)
		}
		t.patterns[asset] = re
	}
	return t, nil
}

// Name returns the configured source name.
func (t *TextPage) Name() string {
	return t.name
}

// Assets returns the assets this source is configured to serve.
func (t *TextPage) Assets() []string {
	return t.assets
}

// Fetch downloads the page text once and extracts every requested asset
// from it. One asset's pattern not matching does not affect the others.
func (t *TextPage) Fetch(ctx context.Context, assets []string) (map[string]float64, error) {
	rest, err := connector.GetREST()
	if err != nil {
		return nil, err
	}

	var body []byte
	err = withRetry(ctx, t.retry, func() error {
		req, err := rest.Request(ctx, t.url)
		if err != nil {
			return backoff.Permanent(err)
		}
		if t.cacheBust {
			connector.CacheBust(req)
		}
		resp, err := rest.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "source %v: page fetch", t.name)
	}

	text := string(body)
	prices := map[string]float64{}
	for asset := range requested(t.assets, assets) {
		match := t.patterns[asset].FindStringSubmatch(text)
		if match == nil {
			log.Debug().Str("source", t.name).Str("asset", asset).Msg("pattern not found in page text")
			continue
		}
		price, err := ParsePrice(match[1])
		if err != nil {
			log.Debug().Err(err).Str("source", t.name).Str("asset", asset).Msg("discarding unparsable price")
			continue
		}
		prices[asset] = price
	}
	return prices, nil
}
