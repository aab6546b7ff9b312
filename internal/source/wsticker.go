package source

import (
	"context"
	"net"
	"strings"

	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/connector"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WsTicker samples a streaming mini ticker feed in a poll friendly way:
// dial, subscribe, read frames until every requested asset was seen or
// the read deadline hits, then close. Partial coverage at the deadline is
// still a valid partial result.
type WsTicker struct {
	name    string
	url     string
	assets  []string
	wsCfg   *config.WS
	symbols map[string]string
	streams map[string]string
}

type wsSubTicker struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type wsRespTicker struct {
	Event       string `json:"e"`
	Symbol      string `json:"s"`
	TickerPrice string `json:"c"`
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	ID          int    `json:"id"`

	// This field value is not used but still need to present
	// because otherwise json decoder does case-insensitive match with "e" and "E".
	EventTime int64 `json:"E"`
}

func newWsTicker(cfg *config.Source, wsCfg *config.WS) (*WsTicker, error) {
	w := &WsTicker{
		name:    cfg.Name,
		url:     cfg.URL,
		assets:  cfg.Assets,
		wsCfg:   wsCfg,
		symbols: make(map[string]string, len(cfg.Symbols)),
		streams: make(map[string]string, len(cfg.Symbols)),
	}
	for asset, symbol := range cfg.Symbols {
		asset = strings.ToLower(asset)
		w.symbols[strings.ToUpper(symbol)] = asset
		w.streams[asset] = strings.ToLower(symbol) + "@miniTicker"
	}
	if len(w.symbols) == 0 {
		return nil, errors.Errorf("source %v: symbols mapping should not be empty", cfg.Name)
	}
	for _, asset := range cfg.Assets {
		if _, ok := w.streams[asset]; !ok {
			return nil, errors.Errorf("source %v: no symbol configured for asset %v", cfg.Name, asset)
		}
	}
	return w, nil
}

// Name returns the configured source name.
func (w *WsTicker) Name() string {
	return w.name
}

// Assets returns the assets this source is configured to serve.
func (w *WsTicker) Assets() []string {
	return w.assets
}

// Fetch opens a fresh websocket connection for the cycle and closes it
// before returning, success or not.
func (w *WsTicker) Fetch(ctx context.Context, assets []string) (map[string]float64, error) {
	wanted := requested(w.assets, assets)
	if len(wanted) == 0 {
		return map[string]float64{}, nil
	}

	ws, err := connector.NewWebsocket(ctx, w.wsCfg, w.url)
	if err != nil {
		return nil, errors.Wrapf(err, "source %v: websocket dial", w.name)
	}
	defer ws.Close()

	// Without a configured read timeout every read would block until the
	// upstream sends something. Fall back to the cycle's own deadline so a
	// silent upstream can never stall the poll loop.
	if w.wsCfg.ReadTimeoutSec == 0 {
		if deadline, ok := ctx.Deadline(); ok {
			if err = ws.Conn.SetReadDeadline(deadline); err != nil {
				return nil, errors.Wrapf(err, "source %v: websocket deadline", w.name)
			}
		}
	}

	params := make([]string, 0, len(wanted))
	for asset := range wanted {
		params = append(params, w.streams[asset])
	}
	sub := wsSubTicker{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     1,
	}
	frame, err := jsoniter.Marshal(sub)
	if err != nil {
		return nil, errors.Wrapf(err, "source %v: subscribe marshal", w.name)
	}
	if err = ws.Write(frame); err != nil {
		return nil, errors.Wrapf(err, "source %v: subscribe write", w.name)
	}

	prices := map[string]float64{}
	for len(prices) < len(wanted) {
		select {
		case <-ctx.Done():
			return prices, nil
		default:
		}

		frame, err := ws.Read()
		if err != nil {
			// Deadline with some assets already seen is a partial result,
			// not a failure.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(prices) > 0 {
				return prices, nil
			}
			return prices, errors.Wrapf(err, "source %v: websocket read", w.name)
		}
		if len(frame) == 0 {
			continue
		}

		wr := wsRespTicker{}
		if err = jsoniter.Unmarshal(frame, &wr); err != nil {
			log.Debug().Err(err).Str("source", w.name).Msg("skipping unparsable frame")
			continue
		}
		if wr.Msg != "" {
			return prices, errors.Errorf("source %v: websocket error code %v: %v", w.name, wr.Code, wr.Msg)
		}
		if wr.Event != "24hrMiniTicker" {
			continue
		}

		asset, ok := w.symbols[strings.ToUpper(wr.Symbol)]
		if !ok || !wanted[asset] {
			continue
		}
		price, err := ParsePrice(wr.TickerPrice)
		if err != nil {
			log.Debug().Err(err).Str("source", w.name).Str("asset", asset).Msg("discarding unparsable price")
			continue
		}
		prices[asset] = price
	}
	return prices, nil
}
