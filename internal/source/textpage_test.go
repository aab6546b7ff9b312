package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goldpoll/goldpoll/internal/config"
	"github.com/goldpoll/goldpoll/internal/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initTestREST() {
	_ = connector.InitREST(&config.REST{ReqTimeoutSec: 5, MaxIdleConns: 2, MaxIdleConnsPerHost: 2})
}

const renderedPage = `
Markets today

XAU / USD ==== 3,412.10

XAG / USD ==== 41.20

BTC / USD ==== not-a-number
`

func TestTextPageFetch(t *testing.T) {
	initTestREST()

	var sawCacheBust bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawCacheBust = r.URL.Query().Get("nocache") != "" && r.Header.Get("Cache-Control") == "no-cache"
		fmt.Fprint(w, renderedPage)
	}))
	defer srv.Close()

	src, err := newTextPage(&config.Source{
		Name:      "rendered",
		Kind:      "textpage",
		URL:       srv.URL,
		Assets:    []string{"xau", "xag", "btc"},
		CacheBust: true,
	})
	require.NoError(t, err)

	prices, err := src.Fetch(context.Background(), []string{"xau", "xag", "btc"})
	require.NoError(t, err)

	assert.True(t, sawCacheBust, "fetch should carry cache busting")
	assert.InDelta(t, 3412.1, prices["xau"], 1e-9)
	assert.InDelta(t, 41.2, prices["xag"], 1e-9)

	// One asset's garbage must not affect the others.
	_, ok := prices["btc"]
	assert.False(t, ok)
}

func TestTextPageFetchTransportFailure(t *testing.T) {
	initTestREST()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src, err := newTextPage(&config.Source{
		Name:   "rendered",
		Kind:   "textpage",
		URL:    srv.URL,
		Assets: []string{"xau"},
	})
	require.NoError(t, err)

	prices, err := src.Fetch(context.Background(), []string{"xau"})
	require.Error(t, err)
	assert.Empty(t, prices)
}

func TestTextPageCustomPattern(t *testing.T) {
	initTestREST()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `Gold spot: 3399.95 USD/oz`)
	}))
	defer srv.Close()

	src, err := newTextPage(&config.Source{
		Name:     "rendered",
		Kind:     "textpage",
		URL:      srv.URL,
		Assets:   []string{"xau"},
		Patterns: map[string]string{"xau": `Gold spot:\s*([\d,]+\.\d+)`},
	})
	require.NoError(t, err)

	prices, err := src.Fetch(context.Background(), []string{"xau"})
	require.NoError(t, err)
	assert.InDelta(t, 3399.95, prices["xau"], 1e-9)
}

func TestTextPageBadPattern(t *testing.T) {
	_, err := newTextPage(&config.Source{
		Name:     "rendered",
		Kind:     "textpage",
		URL:      "http://localhost",
		Assets:   []string{"xau"},
		Patterns: map[string]string{"xau": `([`},
	})
	require.Error(t, err)
}
