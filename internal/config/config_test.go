package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const validConfig = `{
	"assets": ["XAU", "xag", "btc"],
	"sources": [
		{
			"name": "rendered",
			"kind": "textpage",
			"url": "https://r.example.com/price-chart",
			"assets": ["XAU", "xag"],
			"cache_bust": true
		},
		{
			"name": "exchange",
			"kind": "jsonapi",
			"url": "https://api.example.com/ticker/price",
			"assets": ["btc"],
			"symbols": {"btc": "BTCUSDT"}
		}
	],
	"poll": {"interval_sec": 20, "source_timeout_sec": 10},
	"store": {"backend": "file", "file_path": "./data/price.json"},
	"log": {"level": "info"}
}`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"xau", "xag", "btc"}, cfg.Assets)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, []string{"xau", "xag"}, cfg.Sources[0].Assets)
	assert.Equal(t, 20, cfg.Poll.IntervalSec)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, DefaultAPIPort, cfg.API.Port)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"assets": ["xau"],
		"sources": [{"name": "s", "kind": "textpage", "url": "https://example.com", "assets": ["xau"]}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultPollIntervalSec, cfg.Poll.IntervalSec)
	assert.Equal(t, DefaultSourceTimeoutSec, cfg.Poll.SourceTimeoutSec)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, DefaultStorePath, cfg.Store.FilePath)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOLDPOLL_API_KEY", "super-secret")
	t.Setenv("GOLDPOLL_STORE_PATH", "/tmp/other.json")
	t.Setenv("GOLDPOLL_POLL_INTERVAL_SEC", "5")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "super-secret", cfg.API.Key)
	assert.Equal(t, "/tmp/other.json", cfg.Store.FilePath)
	assert.Equal(t, 5, cfg.Poll.IntervalSec)
}

func TestLoadRejectsUnknownSourceKind(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"assets": ["xau"],
		"sources": [{"name": "s", "kind": "carrier-pigeon", "url": "https://example.com", "assets": ["xau"]}]
	}`))
	require.Error(t, err)
}

func TestLoadRejectsNegativeTableCells(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"assets": ["xau"],
		"sources": [{
			"name": "s",
			"kind": "htmltable",
			"url": "https://example.com",
			"assets": ["xau"],
			"table": {"row_selector": "tr", "symbol_cell": 0, "price_cell": -1, "symbols": {"GOLD": "xau"}}
		}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}

func TestLoadRejectsMissingAssets(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"sources": [{"name": "s", "kind": "textpage", "url": "https://example.com", "assets": ["xau"]}]
	}`))
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, `{
		"assets": ["xau"],
		"sources": [{"name": "s", "kind": "textpage", "url": "https://example.com", "assets": ["xau"]}],
		"store": {"backend": "papyrus"}
	}`))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
