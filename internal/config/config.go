package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Precedence: flag > environment
// variable > YAML file > default.
type Config struct {
	T1             float64 `yaml:"t1"`
	T3             float64 `yaml:"t3"`
	BaseDCA        float64 `yaml:"base_dca"`
	F1             float64 `yaml:"f1"`
	F3             float64 `yaml:"f3"`
	SellFactor     float64 `yaml:"sell_factor"`
	Symbol         string  `yaml:"symbol"`
	DryRun         bool    `yaml:"dry_run"`
	Date           string  `yaml:"date"`
	FallbackLatest bool    `yaml:"fallback_latest"`
	PostingHourUTC int     `yaml:"posting_hour_utc"`
	FeedURL        string  `yaml:"feed_url"`
	FeedProxyURL   string  `yaml:"feed_proxy_url"`
	StorePath      string  `yaml:"store_path"`
	SQLitePath     string  `yaml:"sqlite_path"`
	Cron           string  `yaml:"cron"`
	AlpacaBaseURL  string  `yaml:"alpaca_base_url"`
	APIKey         string  `yaml:"-"`
	APISecret      string  `yaml:"-"`
}

func defaults() Config {
	return Config{
		T1:            67,
		T3:            77,
		BaseDCA:       20,
		F1:            10,
		F3:            0,
		SellFactor:    5,
		Symbol:        "BTCUSD",
		FeedURL:       "https://colintalkscrypto.com/cbbi/data/latest.json",
		FeedProxyURL:  "https://corsproxy.io/?",
		StorePath:     "data/executions",
		AlpacaBaseURL: "https://paper-api.alpaca.markets",
	}
}

func Load() (Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (Config, error) {
	// .env is optional and never overrides real environment variables
	_ = godotenv.Load()

	cfg := defaults()

	path := configPath(args)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	var configFlag string
	fs.StringVar(&configFlag, "config", path, "path to YAML config file")
	fs.Float64Var(&cfg.T1, "t1", cfg.T1, "zone-1 sentiment threshold")
	fs.Float64Var(&cfg.T3, "t3", cfg.T3, "zone-3 sentiment threshold")
	fs.Float64Var(&cfg.BaseDCA, "base-dca", cfg.BaseDCA, "daily base contribution in USD")
	fs.Float64Var(&cfg.F1, "f1", cfg.F1, "zone-1 contribution multiplier")
	fs.Float64Var(&cfg.F3, "f3", cfg.F3, "zone-3 contribution multiplier")
	fs.Float64Var(&cfg.SellFactor, "sell-factor", cfg.SellFactor, "zone-3 sell percentage of position")
	fs.StringVar(&cfg.Symbol, "symbol", cfg.Symbol, "trading symbol")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "if true, simulate orders instead of submitting")
	fs.StringVar(&cfg.Date, "date", cfg.Date, "effective date override (2006-01-02)")
	fs.BoolVar(&cfg.FallbackLatest, "fallback-latest", cfg.FallbackLatest, "trade on the latest point when the target date is missing")
	fs.IntVar(&cfg.PostingHourUTC, "posting-hour-utc", cfg.PostingHourUTC, "before this UTC hour use yesterday's date (0 disables)")
	fs.StringVar(&cfg.FeedURL, "feed-url", cfg.FeedURL, "data feed endpoint")
	fs.StringVar(&cfg.FeedProxyURL, "feed-proxy-url", cfg.FeedProxyURL, "proxy prefix for the 406 fallback")
	fs.StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "path to the execution record store")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "path to the audit history database (empty disables)")
	fs.StringVar(&cfg.Cron, "cron", cfg.Cron, "cron schedule for daemon mode (empty runs once)")
	fs.StringVar(&cfg.AlpacaBaseURL, "alpaca-base-url", cfg.AlpacaBaseURL, "brokerage base URL")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// configPath peeks at --config before the full flag set is defined, so file
// values can serve as flag defaults.
func configPath(args []string) string {
	path := os.Getenv("CONFIG_PATH")
	for i := 0; i < len(args); i++ {
		arg := strings.TrimLeft(args[i], "-")
		switch {
		case arg == "config" && i+1 < len(args):
			path = args[i+1]
		case strings.HasPrefix(arg, "config="):
			path = strings.TrimPrefix(arg, "config=")
		}
	}
	return path
}

func applyEnv(cfg *Config) error {
	cfg.APIKey = os.Getenv("ALPACA_API_KEY")
	cfg.APISecret = os.Getenv("ALPACA_SECRET_KEY")

	floats := map[string]*float64{
		"T1":          &cfg.T1,
		"T3":          &cfg.T3,
		"BASE_DCA":    &cfg.BaseDCA,
		"F1":          &cfg.F1,
		"F3":          &cfg.F3,
		"SELL_FACTOR": &cfg.SellFactor,
	}
	for name, dst := range floats {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse env %s=%q: %w", name, v, err)
		}
		*dst = parsed
	}

	if v := os.Getenv("TRADING_SYMBOL"); v != "" {
		cfg.Symbol = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		cfg.FeedURL = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.T1 <= 0 || cfg.T1 >= 100 {
		return fmt.Errorf("t1 must be within (0, 100), got %v", cfg.T1)
	}
	if cfg.T3 <= 0 || cfg.T3 >= 100 {
		return fmt.Errorf("t3 must be within (0, 100), got %v", cfg.T3)
	}
	if cfg.BaseDCA <= 0 {
		return fmt.Errorf("base-dca must be > 0")
	}
	if cfg.F1 < 0 || cfg.F3 < 0 {
		return fmt.Errorf("f1 and f3 must be >= 0")
	}
	if cfg.SellFactor < 0 || cfg.SellFactor > 100 {
		return fmt.Errorf("sell-factor must be within [0, 100]")
	}
	if cfg.PostingHourUTC < 0 || cfg.PostingHourUTC > 23 {
		return fmt.Errorf("posting-hour-utc must be within [0, 23]")
	}
	if cfg.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if cfg.StorePath == "" {
		return fmt.Errorf("store-path is required")
	}
	if cfg.Date != "" {
		if _, err := time.Parse("2006-01-02", cfg.Date); err != nil {
			return fmt.Errorf("date must look like 2006-01-02, got %q", cfg.Date)
		}
	}
	if !cfg.DryRun && (cfg.APIKey == "" || cfg.APISecret == "") {
		return fmt.Errorf("ALPACA_API_KEY and ALPACA_SECRET_KEY are required unless dry-run is set")
	}
	return nil
}
