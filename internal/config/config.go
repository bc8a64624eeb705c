package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadgen/internal/cost"
	"github.com/sells-group/leadgen/internal/governor"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig                         `yaml:"store" mapstructure:"store"`
	Redis       RedisConfig                         `yaml:"redis" mapstructure:"redis"`
	Apollo      ApolloConfig                        `yaml:"apollo" mapstructure:"apollo"`
	Proxycurl   ProxycurlConfig                     `yaml:"proxycurl" mapstructure:"proxycurl"`
	Dropcontact DropcontactConfig                   `yaml:"dropcontact" mapstructure:"dropcontact"`
	Salesforce  SalesforceConfig                    `yaml:"salesforce" mapstructure:"salesforce"`
	Limits      map[string]governor.ProviderLimits  `yaml:"limits" mapstructure:"limits"`
	Pricing     map[string]map[string]float64       `yaml:"pricing" mapstructure:"pricing"`
	Cache       CacheConfig                         `yaml:"cache" mapstructure:"cache"`
	Enrich      EnrichConfig                        `yaml:"enrich" mapstructure:"enrich"`
	Scoring     ScoringConfig                       `yaml:"scoring" mapstructure:"scoring"`
	CRM         CRMConfig                           `yaml:"crm" mapstructure:"crm"`
	Worker      WorkerConfig                        `yaml:"worker" mapstructure:"worker"`
	Server      ServerConfig                        `yaml:"server" mapstructure:"server"`
	Log         LogConfig                           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the queue and cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// ApolloConfig holds Apollo API settings.
type ApolloConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ProxycurlConfig holds Proxycurl API settings (fallback only).
type ProxycurlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DropcontactConfig holds Dropcontact email verification settings.
type DropcontactConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	PollSecs     int    `yaml:"poll_secs" mapstructure:"poll_secs"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID       string  `yaml:"client_id" mapstructure:"client_id"`
	Username       string  `yaml:"username" mapstructure:"username"`
	KeyPath        string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL       string  `yaml:"login_url" mapstructure:"login_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// CacheConfig configures the enrichment result cache.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled"`
	TTLHours int  `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// EnrichConfig configures the provider waterfall.
type EnrichConfig struct {
	Primary           string `yaml:"primary" mapstructure:"primary"`
	Fallback          string `yaml:"fallback" mapstructure:"fallback"`
	Verifier          string `yaml:"verifier" mapstructure:"verifier"`
	FallbackThreshold int    `yaml:"fallback_threshold" mapstructure:"fallback_threshold"`
	MaxContacts       int    `yaml:"max_contacts" mapstructure:"max_contacts"`
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// CRMConfig configures the sync engine.
type CRMConfig struct {
	DealThreshold int    `yaml:"deal_threshold" mapstructure:"deal_threshold"`
	DealStage     string `yaml:"deal_stage" mapstructure:"deal_stage"`
	DealCloseDays int    `yaml:"deal_close_days" mapstructure:"deal_close_days"`
}

// WorkerConfig configures stage consumers.
type WorkerConfig struct {
	Concurrency        int `yaml:"concurrency" mapstructure:"concurrency"`
	ReceiveTimeoutSecs int `yaml:"receive_timeout_secs" mapstructure:"receive_timeout_secs"`
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ReceiveTimeout returns the receive timeout as a duration.
func (w WorkerConfig) ReceiveTimeout() time.Duration {
	return time.Duration(w.ReceiveTimeoutSecs) * time.Second
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("apollo.base_url", "https://api.apollo.io/v1")
	v.SetDefault("proxycurl.base_url", "https://nubela.co/proxycurl/api")
	v.SetDefault("dropcontact.base_url", "https://api.dropcontact.io")
	v.SetDefault("dropcontact.poll_secs", 5)
	v.SetDefault("dropcontact.timeout_secs", 60)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.requests_per_sec", 1.0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("enrich.primary", "apollo")
	v.SetDefault("enrich.fallback", "proxycurl")
	v.SetDefault("enrich.verifier", "dropcontact")
	v.SetDefault("enrich.fallback_threshold", 3)
	v.SetDefault("enrich.max_contacts", 5)
	v.SetDefault("crm.deal_threshold", 80)
	v.SetDefault("crm.deal_stage", "Prospecting")
	v.SetDefault("crm.deal_close_days", 30)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.receive_timeout_secs", 5)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("limits.apollo.requests_per_hour", 600)
	v.SetDefault("limits.apollo.daily_limit", 2000)
	v.SetDefault("limits.apollo.monthly_requests", 10000)
	v.SetDefault("limits.proxycurl.requests_per_hour", 300)
	v.SetDefault("limits.proxycurl.daily_limit", 1000)
	v.SetDefault("limits.proxycurl.monthly_requests", 5000)
	v.SetDefault("limits.dropcontact.requests_per_hour", 1000)
	v.SetDefault("limits.dropcontact.daily_limit", 5000)
	v.SetDefault("limits.dropcontact.monthly_requests", 50000)
	v.SetDefault("pricing.apollo.search", 0.01)
	v.SetDefault("pricing.proxycurl.search", 0.10)
	v.SetDefault("pricing.dropcontact.verify", 0.01)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// decimalHook decodes numeric and string config values into decimal.Decimal,
// used by provider budget limits.
func decimalHook() mapstructure.DecodeHookFunc {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case string:
			return decimal.NewFromString(v)
		default:
			return data, nil
		}
	}
}

// Rates converts the pricing section into the calculator's rate table.
func (c *Config) Rates() cost.Rates {
	if len(c.Pricing) == 0 {
		return cost.DefaultRates()
	}
	rates := make(cost.Rates, len(c.Pricing))
	for provider, ops := range c.Pricing {
		rates[provider] = make(map[string]decimal.Decimal, len(ops))
		for op, price := range ops {
			rates[provider][op] = decimal.NewFromFloat(price)
		}
	}
	return rates
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
