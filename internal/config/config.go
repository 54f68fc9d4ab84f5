package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"stockdashboard/internal/quote"
)

type Server struct {
	Port               string   `mapstructure:"port" validate:"required,numeric"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec" validate:"gte=1"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec" validate:"gte=1"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
}

// Symbol is one watched ticker and its display name.
type Symbol struct {
	Symbol string `mapstructure:"symbol" validate:"required"`
	Name   string `mapstructure:"name"`
}

type Quotes struct {
	Symbols            []Symbol `mapstructure:"symbols" validate:"required,min=1,dive"`
	Window             string   `mapstructure:"window" validate:"required"`
	Timezone           string   `mapstructure:"timezone" validate:"required"`
	SuccessTTLSec      int      `mapstructure:"success_ttl_sec" validate:"gte=1"`
	ErrorTTLSec        int      `mapstructure:"error_ttl_sec" validate:"gte=1"`
	FetchTimeoutSec    int      `mapstructure:"fetch_timeout_sec" validate:"gte=1"`
	RefreshSchedule    string   `mapstructure:"refresh_schedule"`
	RefreshTimeoutSec  int      `mapstructure:"refresh_timeout_sec" validate:"gte=1"`
	RefreshConcurrency int      `mapstructure:"refresh_concurrency" validate:"gte=1"`
	DedupeFetches      bool     `mapstructure:"dedupe_fetches"`
	ChartCacheSize     int      `mapstructure:"chart_cache_size" validate:"gte=1"`
}

type Yahoo struct {
	BaseURL               string `mapstructure:"base_url" validate:"required,url"`
	Interval              string `mapstructure:"interval" validate:"required"`
	UserAgent             string `mapstructure:"user_agent"`
	Retries               int    `mapstructure:"retries" validate:"gte=0"`
	MaxRequestsPerMinute  int    `mapstructure:"max_requests_per_minute" validate:"gte=0"`
	Burst                 int    `mapstructure:"burst" validate:"gte=0"`
	MinRequestIntervalSec int    `mapstructure:"min_request_interval_sec" validate:"gte=0"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type Config struct {
	Server Server `mapstructure:"server"`
	Quotes Quotes `mapstructure:"quotes"`
	Yahoo  Yahoo  `mapstructure:"yahoo"`
	Log    Log    `mapstructure:"log"`
}

// DefaultSymbols is the watch list used when none is configured.
func DefaultSymbols() []Symbol {
	return []Symbol{
		{Symbol: "2327.T", Name: "日鉄ソリューションズ"},
		{Symbol: "4528.T", Name: "小野薬品工業"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.request_timeout_sec", 15)
	v.SetDefault("server.shutdown_timeout_sec", 10)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("quotes.window", "5d")
	v.SetDefault("quotes.timezone", "Asia/Tokyo")
	v.SetDefault("quotes.success_ttl_sec", 30)
	v.SetDefault("quotes.error_ttl_sec", 10)
	v.SetDefault("quotes.fetch_timeout_sec", 10)
	v.SetDefault("quotes.refresh_schedule", "@every 30s")
	v.SetDefault("quotes.refresh_timeout_sec", 60)
	v.SetDefault("quotes.refresh_concurrency", 4)
	v.SetDefault("quotes.dedupe_fetches", false)
	v.SetDefault("quotes.chart_cache_size", 64)

	v.SetDefault("yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("yahoo.interval", "1d")
	v.SetDefault("yahoo.user_agent", "Mozilla/5.0 (compatible; stock-dashboard/1.0)")
	v.SetDefault("yahoo.retries", 2)
	v.SetDefault("yahoo.max_requests_per_minute", 60)
	v.SetDefault("yahoo.burst", 5)
	v.SetDefault("yahoo.min_request_interval_sec", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads config from the JSON file at path, falling back to $CONFIG_FILE
// and then ./config.json. A missing file yields defaults. Environment
// variables override file values: nested keys use upper snake case
// (QUOTES_SUCCESS_TTL_SEC), PORT sets the listen port and SYMBOLS replaces
// the watch list ("AAPL=Apple,MSFT").
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	if s := os.Getenv("SYMBOLS"); s != "" {
		cfg.Quotes.Symbols = ParseSymbols(s)
	}
	if len(cfg.Quotes.Symbols) == 0 {
		cfg.Quotes.Symbols = DefaultSymbols()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and that the time zone exists.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if _, err := time.LoadLocation(c.Quotes.Timezone); err != nil {
		return errors.Wrapf(err, "invalid config: time zone %q", c.Quotes.Timezone)
	}
	return nil
}

// ParseSymbols reads a comma separated watch list where each item is either
// "SYMBOL" or "SYMBOL=Display Name".
func ParseSymbols(s string) []Symbol {
	parts := strings.Split(s, ",")
	out := make([]Symbol, 0, len(parts))
	for _, p := range parts {
		sym, name, _ := strings.Cut(p, "=")
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		out = append(out, Symbol{Symbol: sym, Name: strings.TrimSpace(name)})
	}
	return out
}

// SymbolList returns the watched tickers in configured order.
func (q Quotes) SymbolList() []string {
	out := make([]string, 0, len(q.Symbols))
	for _, s := range q.Symbols {
		out = append(out, s.Symbol)
	}
	return out
}

// Directory maps watched tickers to their display names.
func (q Quotes) Directory() quote.Directory {
	d := make(quote.Directory, len(q.Symbols))
	for _, s := range q.Symbols {
		d[s.Symbol] = s.Name
	}
	return d
}

func (q Quotes) SuccessTTL() time.Duration   { return seconds(q.SuccessTTLSec) }
func (q Quotes) ErrorTTL() time.Duration     { return seconds(q.ErrorTTLSec) }
func (q Quotes) FetchTimeout() time.Duration { return seconds(q.FetchTimeoutSec) }

// RefreshTimeout bounds one background refresh of the whole watch list.
func (q Quotes) RefreshTimeout() time.Duration { return seconds(q.RefreshTimeoutSec) }

func (s Server) RequestTimeout() time.Duration  { return seconds(s.RequestTimeoutSec) }
func (s Server) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSec) }

func (y Yahoo) MinRequestInterval() time.Duration { return seconds(y.MinRequestIntervalSec) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
