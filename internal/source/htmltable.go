package source

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/connector"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HTMLTable scrapes prices out of an HTML table: one row per instrument,
// a symbol cell and a price cell at configured positions.
type HTMLTable struct {
	name    string
	url     string
	assets  []string
	retry   config.Retry
	table   config.Table
	symbols map[string]string
}

func newHTMLTable(cfg *config.Source) (*HTMLTable, error) {
	h := &HTMLTable{
		name:    cfg.Name,
		url:     cfg.URL,
		assets:  cfg.Assets,
		retry:   cfg.Retry,
		table:   cfg.Table,
		symbols: make(map[string]string, len(cfg.Table.Symbols)),
	}
	if h.table.RowSelector == "" {
		h.table.RowSelector = "table tbody tr"
	}
	for symbol, asset := range cfg.Table.Symbols {
		h.symbols[strings.ToUpper(symbol)] = strings.ToLower(asset)
	}
	if len(h.symbols) == 0 {
		return nil, errors.Errorf("source %v: table symbols mapping should not be empty", cfg.Name)
	}
	return h, nil
}

// Name returns the configured source name.
func (h *HTMLTable) Name() string {
	return h.name
}

// Assets returns the assets this source is configured to serve.
func (h *HTMLTable) Assets() []string {
	return h.assets
}

// Fetch downloads the page and walks the table rows. A malformed row is
// skipped, the other rows still populate the result.
func (h *HTMLTable) Fetch(ctx context.Context, assets []string) (map[string]float64, error) {
	rest, err := connector.GetREST()
	if err != nil {
		return nil, err
	}

	var doc *goquery.Document
	err = withRetry(ctx, h.retry, func() error {
		req, err := rest.Request(ctx, h.url)
		if err != nil {
			return backoff.Permanent(err)
		}
		var resp *http.Response
		resp, err = rest.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		doc, err = goquery.NewDocumentFromReader(resp.Body)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "source %v: table fetch", h.name)
	}

	wanted := requested(h.assets, assets)
	prices := map[string]float64{}
	doc.Find(h.table.RowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= h.table.SymbolCell || cells.Length() <= h.table.PriceCell {
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(cells.Eq(h.table.SymbolCell).Text()))
		asset, ok := h.symbols[symbol]
		if !ok || !wanted[asset] {
			return
		}
		price, err := ParsePrice(cells.Eq(h.table.PriceCell).Text())
		if err != nil {
			log.Debug().Err(err).Str("source", h.name).Str("asset", asset).Msg("skipping malformed table row")
			return
		}
		prices[asset] = price
	})
	return prices, nil
}
