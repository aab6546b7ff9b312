package config

import (
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	// DefaultPollIntervalSec is the gap between two poll cycles if none is configured.
	DefaultPollIntervalSec = 20
	// DefaultSourceTimeoutSec bounds a single source fetch if none is configured.
	DefaultSourceTimeoutSec = 15
	// DefaultStorePath is the canonical location of the persisted quote file.
	DefaultStorePath = "./data/price.json"
	// DefaultAPIPort is the listen port of the read API.
	DefaultAPIPort = "8000"
)

// Config contains config values for the app.
// Struct values are loaded from user defined JSON config file,
// secrets and deploy specific values can be overridden through env vars.
type Config struct {
	Assets     []string   `json:"assets"`
	Sources    []Source   `json:"sources"`
	Poll       Poll       `json:"poll"`
	Store      Store      `json:"store"`
	Connection Connection `json:"connection"`
	API        API        `json:"api"`
	Log        Log        `json:"log"`
}

// Source contains config values for one upstream quote source.
// Kind selects the adapter variant, the other fields are variant specific.
type Source struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	URL       string            `json:"url"`
	Assets    []string          `json:"assets"`
	Patterns  map[string]string `json:"patterns"`
	Symbols   map[string]string `json:"symbols"`
	Selectors map[string]string `json:"selectors"`
	Table     Table             `json:"table"`
	CacheBust bool              `json:"cache_bust"`
	Retry     Retry             `json:"retry"`
}

// Table contains config values for the HTML table source variant.
// Symbols maps the upstream symbol cell text to an asset code.
type Table struct {
	RowSelector string            `json:"row_selector"`
	SymbolCell  int               `json:"symbol_cell"`
	PriceCell   int               `json:"price_cell"`
	Symbols     map[string]string `json:"symbols"`
}

// Retry contains config values for in-cycle retry of transient source failures.
type Retry struct {
	Number int `json:"number"`
	GapSec int `json:"gap_sec"`
}

// Poll contains config values for the poll loop.
type Poll struct {
	IntervalSec      int `json:"interval_sec"`
	SourceTimeoutSec int `json:"source_timeout_sec"`
}

// Store contains config values for the quote store.
type Store struct {
	Backend  string `json:"backend"`
	FilePath string `json:"file_path"`
}

// Connection contains config values for different API and storage connections.
type Connection struct {
	REST     REST     `json:"rest"`
	WS       WS       `json:"websocket"`
	MySQL    MySQL    `json:"mysql"`
	Terminal Terminal `json:"terminal"`
}

// REST contains config values for REST API connection.
type REST struct {
	ReqTimeoutSec       int `json:"request_timeout_sec"`
	MaxIdleConns        int `json:"max_idle_conns"`
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
}

// WS contains config values for websocket connection.
type WS struct {
	ConnTimeoutSec int `json:"conn_timeout_sec"`
	ReadTimeoutSec int `json:"read_timeout_sec"`
}

// MySQL contains config values for mysql.
type MySQL struct {
	User               string `json:"user"`
	Password           string `json:"password"`
	URL                string `json:"URL"`
	Schema             string `json:"schema"`
	ReqTimeoutSec      int    `json:"request_timeout_sec"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec"`
	MaxOpenConns       int    `json:"max_open_conns"`
	MaxIdleConns       int    `json:"max_idle_conns"`
}

// Terminal contains config values for terminal echo of committed quotes.
type Terminal struct {
	Echo bool `json:"echo"`
}

// API contains config values for the read API server.
// Key is never read from the config file, only from GOLDPOLL_API_KEY.
type API struct {
	Port            string `json:"port"`
	ReadTimeoutSec  int    `json:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec"`
	Key             string `json:"-"`
}

// Log contains config values for logging.
type Log struct {
	Level    string `json:"level"`
	FilePath string `json:"file_path"`
}

// Load reads the JSON config file from the given path, applies env
// overrides and defaults and validates user defined values.
func Load(path string) (*Config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "not able to open config file")
	}
	defer cfgFile.Close()

	var cfg Config
	if err = jsoniter.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "not able to parse JSON from config file")
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GOLDPOLL_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("GOLDPOLL_STORE_PATH"); v != "" {
		c.Store.FilePath = v
	}
	if v := os.Getenv("GOLDPOLL_PORT"); v != "" {
		c.API.Port = v
	}
	if v := os.Getenv("GOLDPOLL_POLL_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Poll.IntervalSec = sec
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Poll.IntervalSec < 1 {
		c.Poll.IntervalSec = DefaultPollIntervalSec
	}
	if c.Poll.SourceTimeoutSec < 1 {
		c.Poll.SourceTimeoutSec = DefaultSourceTimeoutSec
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
	if c.Store.FilePath == "" {
		c.Store.FilePath = DefaultStorePath
	}
	if c.API.Port == "" {
		c.API.Port = DefaultAPIPort
	}

	// Asset codes are case-insensitive, canonicalized to lowercase everywhere.
	for i, asset := range c.Assets {
		c.Assets[i] = strings.ToLower(strings.TrimSpace(asset))
	}
	for i := range c.Sources {
		for j, asset := range c.Sources[i].Assets {
			c.Sources[i].Assets[j] = strings.ToLower(strings.TrimSpace(asset))
		}
	}
}

func (c *Config) validate() error {
	if len(c.Assets) == 0 {
		return errors.New("at least one asset should be configured")
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one source should be configured")
	}
	for _, src := range c.Sources {
		switch src.Kind {
		case "textpage", "jsonapi", "htmltable", "browser", "wsticker":
		default:
			return errors.Errorf("unknown source kind: %v", src.Kind)
		}
		if src.URL == "" {
			return errors.Errorf("source %v: url should not be empty", src.Name)
		}
		if len(src.Assets) == 0 {
			return errors.Errorf("source %v: at least one asset should be configured", src.Name)
		}
		if src.Kind == "htmltable" && (src.Table.SymbolCell < 0 || src.Table.PriceCell < 0) {
			return errors.Errorf("source %v: table cell indexes should not be negative", src.Name)
		}
	}
	switch c.Store.Backend {
	case "file", "mysql":
	default:
		return errors.Errorf("unknown store backend: %v", c.Store.Backend)
	}
	return nil
}
