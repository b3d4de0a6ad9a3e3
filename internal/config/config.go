package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Heidi     HeidiConfig     `yaml:"heidi" mapstructure:"heidi"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Trials    TrialsConfig    `yaml:"trials" mapstructure:"trials"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// HeidiConfig holds credentials and endpoints for the session API.
type HeidiConfig struct {
	APIKey       string   `yaml:"api_key" mapstructure:"api_key"`
	UserEmail    string   `yaml:"user_email" mapstructure:"user_email"`
	ThirdPartyID string   `yaml:"third_party_id" mapstructure:"third_party_id"`
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	SessionKeys  []string `yaml:"session_keys" mapstructure:"session_keys"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts  int      `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// Timeout returns the per-request timeout for session API calls.
func (h HeidiConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	Model            string `yaml:"model" mapstructure:"model"`
	MaxTokens        int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Timeout returns the per-call timeout for completion requests.
func (a AnthropicConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// ResetTimeout returns how long the circuit breaker stays open.
func (a AnthropicConfig) ResetTimeout() time.Duration {
	return time.Duration(a.ResetTimeoutSecs) * time.Second
}

// TrialsConfig points at the trial catalog.
type TrialsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PricingConfig holds per-model pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("TRIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"heidi.api_key", "heidi.user_email", "heidi.third_party_id",
		"anthropic.key", "store.database_url", "trials.path",
	} {
		_ = v.BindEnv(key)
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("heidi.base_url", "https://registrar.api.heidihealth.com/api/v2/ml-scribe/open-api")
	v.SetDefault("heidi.timeout_secs", 20)
	v.SetDefault("heidi.rate_per_sec", 10.0)
	v.SetDefault("heidi.max_attempts", 2)
	v.SetDefault("heidi.session_keys", []string{
		"79961964682388047095265137904427292452",
		"2911141399900658373248683184776191109",
		"198546453983809752417647477029109534577",
		"53369520706978908329129208208788026741",
		"126710765043013037596060241247978536320",
		"204282286603551972702961504135244682507",
	})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.failure_threshold", 5)
	v.SetDefault("anthropic.reset_timeout_secs", 30)

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

// Validate checks that the settings required by a command are present.
// Mode is one of "sessions", "store", "prescreen", "assess" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireSessions := func() {
		if c.Heidi.APIKey == "" {
			errs = append(errs, "heidi.api_key is required")
		}
		if c.Heidi.UserEmail == "" {
			errs = append(errs, "heidi.user_email is required")
		}
		if c.Heidi.ThirdPartyID == "" {
			errs = append(errs, "heidi.third_party_id is required")
		}
		if len(c.Heidi.SessionKeys) == 0 {
			errs = append(errs, "heidi.session_keys must not be empty")
		}
	}
	requireStore := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	requireAssess := func() {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.MaxTokens <= 0 {
			errs = append(errs, "anthropic.max_tokens must be > 0")
		}
	}

	switch mode {
	case "sessions":
		requireSessions()
	case "store":
		requireStore()
	case "prescreen":
		requireSessions()
		requireStore()
	case "assess":
		requireSessions()
		requireStore()
		requireAssess()
	case "serve":
		requireSessions()
		requireStore()
		requireAssess()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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
