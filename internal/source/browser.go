package source

import (
	"context"

	"github.com/chromedp/chromedp"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Browser reads element text from a javascript rendered page through a
// headless chrome instance, for upstreams that serve nothing useful to a
// plain GET. The browser and tab are scoped to a single Fetch and always
// released before it returns.
type Browser struct {
	name      string
	url       string
	assets    []string
	selectors map[string]string
}

func newBrowser(cfg *config.Source) (*Browser, error) {
	b := &Browser{
		name:      cfg.Name,
		url:       cfg.URL,
		assets:    cfg.Assets,
		selectors: cfg.Selectors,
	}
	for _, asset := range cfg.Assets {
		if _, ok := b.selectors[asset]; !ok {
			return nil, errors.Errorf("source %v: no selector configured for asset %v", cfg.Name, asset)
		}
	}
	return b, nil
}

// Name returns the configured source name.
func (b *Browser) Name() string {
	return b.name
}

// Assets returns the assets this source is configured to serve.
func (b *Browser) Assets() []string {
	return b.assets
}

// Fetch navigates once and reads one element per requested asset.
// A selector that never resolves fails only that asset.
func (b *Browser) Fetch(ctx context.Context, assets []string) (map[string]float64, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(b.url)); err != nil {
		return nil, errors.Wrapf(err, "source %v: page navigation", b.name)
	}

	prices := map[string]float64{}
	for asset := range requested(b.assets, assets) {
		var text string
		err := chromedp.Run(tabCtx, chromedp.Text(b.selectors[asset], &text, chromedp.ByQuery, chromedp.NodeVisible))
		if err != nil {
			log.Debug().Err(err).Str("source", b.name).Str("asset", asset).Msg("selector did not resolve")
			continue
		}
		price, err := ParsePrice(text)
		if err != nil {
			log.Debug().Err(err).Str("source", b.name).Str("asset", asset).Msg("discarding unparsable price")
			continue
		}
		prices[asset] = price
	}
	return prices, nil
}
