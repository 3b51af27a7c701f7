package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Cron       CronConfig       `yaml:"cron" mapstructure:"cron"`
	Stripe     StripeConfig     `yaml:"stripe" mapstructure:"stripe"`
	Denefits   DenefitsConfig   `yaml:"denefits" mapstructure:"denefits"`
	ManyChat   ManyChatConfig   `yaml:"manychat" mapstructure:"manychat"`
	Meta       MetaConfig       `yaml:"meta" mapstructure:"meta"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Backfill   BackfillConfig   `yaml:"backfill" mapstructure:"backfill"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	DefaultTenant   string   `yaml:"default_tenant" mapstructure:"default_tenant"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownSecs    int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ReadTimeoutSecs int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CronConfig secures the scheduled-job endpoints. AdminSecret guards the
// ad-hoc report trigger; empty disables it.
type CronConfig struct {
	Secret      string `yaml:"secret" mapstructure:"secret"`
	AdminSecret string `yaml:"admin_secret" mapstructure:"admin_secret"`
}

// StripeConfig holds the global Stripe webhook secret.
type StripeConfig struct {
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// DenefitsConfig configures Denefits ingestion.
type DenefitsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// ManyChatConfig holds ManyChat API settings.
type ManyChatConfig struct {
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MetaConfig holds Meta Graph and Conversions API settings.
type MetaConfig struct {
	AccessToken     string  `yaml:"access_token" mapstructure:"access_token"`
	AdAccountID     string  `yaml:"ad_account_id" mapstructure:"ad_account_id"`
	PixelID         string  `yaml:"pixel_id" mapstructure:"pixel_id"`
	CAPIAccessToken string  `yaml:"capi_access_token" mapstructure:"capi_access_token"`
	TestEventCode   string  `yaml:"test_event_code" mapstructure:"test_event_code"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	APIVersion      string  `yaml:"api_version" mapstructure:"api_version"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	FlushBatch      int     `yaml:"flush_batch" mapstructure:"flush_batch"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// NotionConfig holds Notion API credentials for the report archive.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// MailConfig configures SMTP delivery of reports.
type MailConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// RedisConfig configures the tenant cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTLMins  int    `yaml:"ttl_mins" mapstructure:"ttl_mins"`
}

// QueueConfig configures RabbitMQ dispatch of CAPI events. An empty URL
// leaves the outbox to be drained by flush-capi.
type QueueConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
	Queue    string `yaml:"queue" mapstructure:"queue"`
	Prefetch int    `yaml:"prefetch" mapstructure:"prefetch"`
}

// MatchingConfig tunes the contact resolver.
type MatchingConfig struct {
	NameSimilarity  float64 `yaml:"name_similarity" mapstructure:"name_similarity"`
	RetryOnNotFound bool    `yaml:"retry_on_not_found" mapstructure:"retry_on_not_found"`
}

// RetryConfig holds backoff settings for resolver retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// MonitoringConfig configures the alert loop inside serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	ErrorRateThreshold   float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	OrphanThreshold      int     `yaml:"orphan_threshold" mapstructure:"orphan_threshold"`
	CAPIBacklogThreshold int     `yaml:"capi_backlog_threshold" mapstructure:"capi_backlog_threshold"`
}

// ReportConfig configures weekly and monthly reports. TestRecipients
// receive test-mode runs instead of the tenant's list.
type ReportConfig struct {
	LeadMagnetAdIDs []string `yaml:"lead_magnet_ad_ids" mapstructure:"lead_magnet_ad_ids"`
	Timezone        string   `yaml:"timezone" mapstructure:"timezone"`
	Narrative       bool     `yaml:"narrative" mapstructure:"narrative"`
	TestRecipients  []string `yaml:"test_recipients" mapstructure:"test_recipients"`
}

// BackfillConfig configures orphan repair.
type BackfillConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchLimit  int `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// Load reads configuration from .env files, the optional config file and
// the environment.
func Load() (*Config, error) {
	// Local env files are optional; existing variables win.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FUNNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.default_tenant", "default")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_secs", 15)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.read_timeout_secs", 30)
	v.SetDefault("cron.secret", "")
	v.SetDefault("cron.admin_secret", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("denefits.enabled", true)
	v.SetDefault("manychat.api_key", "")
	v.SetDefault("manychat.base_url", "https://api.manychat.com")
	v.SetDefault("manychat.timeout_secs", 5)
	v.SetDefault("manychat.rate_limit", 10)
	v.SetDefault("meta.access_token", "")
	v.SetDefault("meta.ad_account_id", "")
	v.SetDefault("meta.pixel_id", "")
	v.SetDefault("meta.capi_access_token", "")
	v.SetDefault("meta.base_url", "https://graph.facebook.com")
	v.SetDefault("meta.api_version", "v21.0")
	v.SetDefault("meta.rate_limit", 5)
	v.SetDefault("meta.max_attempts", 5)
	v.SetDefault("meta.flush_batch", 100)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 600)
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.report_db", "")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl_mins", 60)
	v.SetDefault("queue.url", "")
	v.SetDefault("queue.exchange", "funnel.capi")
	v.SetDefault("queue.queue", "funnel.capi.events")
	v.SetDefault("queue.prefetch", 10)
	v.SetDefault("matching.name_similarity", 0.6)
	v.SetDefault("matching.retry_on_not_found", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 5000)
	v.SetDefault("retry.max_backoff_ms", 45000)
	v.SetDefault("retry.multiplier", 3.0)
	v.SetDefault("retry.jitter_fraction", 0.1)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.error_rate_threshold", 0.1)
	v.SetDefault("monitoring.orphan_threshold", 5)
	v.SetDefault("monitoring.capi_backlog_threshold", 100)
	v.SetDefault("report.lead_magnet_ad_ids", []string{})
	v.SetDefault("report.timezone", "America/New_York")
	v.SetDefault("report.narrative", false)
	v.SetDefault("report.test_recipients", []string{})
	v.SetDefault("backfill.concurrency", 4)
	v.SetDefault("backfill.batch_limit", 500)

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

// Validate checks that the settings a command mode needs are present.
// Modes: serve, job, report, metaads, capi.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "serve":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		require(c.Server.Port > 0, "server.port must be > 0")
	case "job":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	case "report":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		require(c.Mail.Host != "", "mail.host is required")
		require(c.Mail.From != "", "mail.from is required")
	case "metaads":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		require(c.Meta.AccessToken != "", "meta.access_token is required")
		require(c.Meta.AdAccountID != "", "meta.ad_account_id is required")
	case "capi":
		require(c.Store.DatabaseURL != "", "store.database_url is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Matching.NameSimilarity < 0 || c.Matching.NameSimilarity > 1 {
		problems = append(problems, fmt.Sprintf("matching.name_similarity must be between 0 and 1, got %v", c.Matching.NameSimilarity))
	}
	if c.Backfill.Concurrency < 1 || c.Backfill.Concurrency > 32 {
		problems = append(problems, "backfill.concurrency must be between 1 and 32")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
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
