package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWsTickerFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			// Wait for the subscribe frame, then stream two tickers.
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
			frames := []string{
				`{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"91000.0"}`,
				`{"e":"24hrMiniTicker","E":1700000000001,"s":"PAXGUSDT","c":"3412.1"}`,
			}
			for _, frame := range frames {
				if err := wsutil.WriteServerText(conn, []byte(frame)); err != nil {
					return
				}
			}
		}()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	src, err := newWsTicker(&config.Source{
		Name:    "exchange-ws",
		Kind:    "wsticker",
		URL:     wsURL,
		Assets:  []string{"btc", "xau"},
		Symbols: map[string]string{"btc": "BTCUSDT", "xau": "PAXGUSDT"},
	}, &config.WS{ConnTimeoutSec: 5, ReadTimeoutSec: 5})
	require.NoError(t, err)

	prices, err := src.Fetch(context.Background(), []string{"btc", "xau"})
	require.NoError(t, err)
	assert.InDelta(t, 91000.0, prices["btc"], 1e-9)
	assert.InDelta(t, 3412.1, prices["xau"], 1e-9)
}

func TestWsTickerFetchPartialOnDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
			// Only one of the two subscribed assets ever arrives.
			frame := `{"e":"24hrMiniTicker","E":1700000000000,"s":"BTCUSDT","c":"91000.0"}`
			if err := wsutil.WriteServerText(conn, []byte(frame)); err != nil {
				return
			}
			// Keep the connection open so the client hits its read deadline.
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
		}()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	src, err := newWsTicker(&config.Source{
		Name:    "exchange-ws",
		Kind:    "wsticker",
		URL:     wsURL,
		Assets:  []string{"btc", "xau"},
		Symbols: map[string]string{"btc": "BTCUSDT", "xau": "PAXGUSDT"},
	}, &config.WS{ConnTimeoutSec: 5, ReadTimeoutSec: 1})
	require.NoError(t, err)

	prices, err := src.Fetch(context.Background(), []string{"btc", "xau"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"btc": 91000.0}, prices)
}

func TestWsTickerHonorsContextDeadlineWithoutReadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			// Accept the subscribe, then go silent with the connection open.
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
			buf := make([]byte, 1)
			_, _ = conn.Read(buf)
		}()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	src, err := newWsTicker(&config.Source{
		Name:    "exchange-ws",
		Kind:    "wsticker",
		URL:     wsURL,
		Assets:  []string{"btc"},
		Symbols: map[string]string{"btc": "BTCUSDT"},
	}, &config.WS{ConnTimeoutSec: 5, ReadTimeoutSec: 0})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = src.Fetch(ctx, []string{"btc"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "a silent upstream must not block past the cycle deadline")
}

func TestWsTickerDialFailure(t *testing.T) {
	src, err := newWsTicker(&config.Source{
		Name:    "exchange-ws",
		Kind:    "wsticker",
		URL:     "ws://127.0.0.1:1",
		Assets:  []string{"btc"},
		Symbols: map[string]string{"btc": "BTCUSDT"},
	}, &config.WS{ConnTimeoutSec: 1, ReadTimeoutSec: 1})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), []string{"btc"})
	require.Error(t, err)
}
