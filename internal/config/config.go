package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/watchman/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig          `yaml:"store" mapstructure:"store"`
	Log        LogConfig            `yaml:"log" mapstructure:"log"`
	Server     ServerConfig         `yaml:"server" mapstructure:"server"`
	Engine     model.EngineSettings `yaml:"engine" mapstructure:"engine"`
	Sources    SourcesConfig        `yaml:"sources" mapstructure:"sources"`
	Notify     NotifyConfig         `yaml:"notify" mapstructure:"notify"`
	Anthropic  AnthropicConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	Enrich     EnrichConfig         `yaml:"enrich" mapstructure:"enrich"`
	Poll       PollConfig           `yaml:"poll" mapstructure:"poll"`
	Monitoring MonitoringConfig     `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	AdminToken  string   `yaml:"admin_token" mapstructure:"admin_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// SourcesConfig configures the public data sources.
type SourcesConfig struct {
	UserAgent  string       `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSec int          `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries int          `yaml:"max_retries" mapstructure:"max_retries"`
	EDGAR      EDGARConfig  `yaml:"edgar" mapstructure:"edgar"`
	CTGov      CTGovConfig  `yaml:"ctgov" mapstructure:"ctgov"`
	Market     MarketConfig `yaml:"market" mapstructure:"market"`
	Feeds      FeedsConfig  `yaml:"feeds" mapstructure:"feeds"`
}

// EDGARConfig configures the SEC submissions client.
type EDGARConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CTGovConfig configures the ClinicalTrials.gov client.
type CTGovConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MarketConfig selects the market-move provider.
type MarketConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "stub" or "none"
	StubPath string `yaml:"stub_path" mapstructure:"stub_path"`
}

// FeedsConfig toggles press-release feed polling.
type FeedsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NotifyConfig configures outbound notification channels.
type NotifyConfig struct {
	UserID         string `yaml:"user_id" mapstructure:"user_id"`
	EmailAPIKey    string `yaml:"email_api_key" mapstructure:"email_api_key"`
	EmailFrom      string `yaml:"email_from" mapstructure:"email_from"`
	EmailEndpoint  string `yaml:"email_endpoint" mapstructure:"email_endpoint"`
	PushWebhookURL string `yaml:"push_webhook_url" mapstructure:"push_webhook_url"`
	QuietThreshold int    `yaml:"quiet_threshold" mapstructure:"quiet_threshold"`
}

// AnthropicConfig configures the Anthropic API client.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// EnrichConfig configures optional trial-change interpretation.
type EnrichConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	Model              string `yaml:"model" mapstructure:"model"`
	MaxPerRun          int    `yaml:"max_per_run" mapstructure:"max_per_run"`
	MaxPerTickerPerDay int    `yaml:"max_per_ticker_per_day" mapstructure:"max_per_ticker_per_day"`
}

// PollConfig configures the poll cycle.
type PollConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// IntervalMins schedules polls inside `serve`. Zero disables scheduling.
	IntervalMins int `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// MonitoringConfig configures the poll-health alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WATCHMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets and optional endpoints default to empty so env overrides bind.
	for _, key := range []string{
		"store.database_url", "server.admin_token", "anthropic.key", "anthropic.base_url",
		"notify.email_api_key", "notify.email_from", "notify.push_webhook_url",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("enrich.enabled", false)
	v.SetDefault("monitoring.enabled", false)

	// Defaults
	defaults := model.DefaultEngineSettings()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "watchman.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("engine.alert_threshold", defaults.AlertThreshold)
	v.SetDefault("engine.suppression_strictness", string(defaults.SuppressionStrictness))
	v.SetDefault("engine.panic_sensitivity", defaults.PanicSensitivity)
	v.SetDefault("engine.feedback_loop", defaults.FeedbackLoop)
	v.SetDefault("sources.user_agent", "watchman/1.0 ops@example.com")
	v.SetDefault("sources.timeout_secs", 30)
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("sources.edgar.base_url", "https://data.sec.gov")
	v.SetDefault("sources.ctgov.base_url", "https://clinicaltrials.gov/api/v2")
	v.SetDefault("sources.market.provider", "stub")
	v.SetDefault("sources.market.stub_path", "market_moves.json")
	v.SetDefault("sources.feeds.enabled", true)
	v.SetDefault("notify.user_id", model.DefaultUserID)
	v.SetDefault("notify.email_endpoint", "https://api.resend.com/emails")
	v.SetDefault("notify.quiet_threshold", 3)
	v.SetDefault("enrich.model", "claude-haiku-4-5-20251001")
	v.SetDefault("enrich.max_per_run", 10)
	v.SetDefault("enrich.max_per_ticker_per_day", 2)
	v.SetDefault("poll.concurrency", 4)
	v.SetDefault("poll.interval_mins", 0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_after_hours", 26)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command needs. mode is one of "poll",
// "serve" or "migrate"; every problem found is reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	if mode == "poll" || mode == "serve" {
		if c.Sources.UserAgent == "" {
			add("sources.user_agent is required")
		}
		if c.Enrich.Enabled && c.Anthropic.Key == "" {
			add("anthropic.key is required when enrich.enabled is set")
		}
		if c.Enrich.MaxPerRun < 0 || c.Enrich.MaxPerTickerPerDay < 0 {
			add("enrich budgets must be non-negative")
		}
		switch c.Sources.Market.Provider {
		case "stub", "none":
		default:
			add("sources.market.provider must be stub or none, got %q", c.Sources.Market.Provider)
		}
		if c.Engine.AlertThreshold < 0 || c.Engine.AlertThreshold > 100 {
			add("engine.alert_threshold must be within [0,100]")
		}
		if c.Engine.PanicSensitivity < -100 || c.Engine.PanicSensitivity > 0 {
			add("engine.panic_sensitivity must be within [-100,0]")
		}
		switch c.Engine.SuppressionStrictness {
		case model.StrictnessLow, model.StrictnessMed, model.StrictnessHigh:
		default:
			add("engine.suppression_strictness must be low, med or high")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port must be within [1,65535]")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			add("monitoring.webhook_url is required when monitoring.enabled is set")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
