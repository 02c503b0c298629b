package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	AuthSecret  string   `mapstructure:"AUTH_JWT_SECRET"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	WeaviateURL         string `mapstructure:"WEAVIATE_URL"`
	WeaviateClass       string `mapstructure:"WEAVIATE_CLASS"`
	EmbeddingURL        string `mapstructure:"EMBEDDING_URL"`
	EmbeddingModelVer   string `mapstructure:"EMBEDDING_MODEL_VERSION"`
	RulesPath           string `mapstructure:"RULES_PATH"`
	RerankerWeightsPath string `mapstructure:"RERANKER_WEIGHTS_PATH"`

	ReviewThreshold  float64       `mapstructure:"REVIEW_THRESHOLD"`
	RuleShortCircuit float64       `mapstructure:"RULE_SHORT_CIRCUIT"`
	SemanticTopK     int           `mapstructure:"SEMANTIC_TOP_K"`
	RerankTopN       int           `mapstructure:"RERANK_TOP_N"`
	SemanticTimeout  time.Duration `mapstructure:"SEMANTIC_TIMEOUT"`

	PauseThreshold     int           `mapstructure:"PAUSE_THRESHOLD"`
	PauseWindow        time.Duration `mapstructure:"PAUSE_WINDOW"`
	ProtectedResources []string      `mapstructure:"PROTECTED_RESOURCES"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("WEAVIATE_CLASS", "ICD11Code")
	v.SetDefault("RULES_PATH", "./configs/rules.yaml")
	v.SetDefault("RERANKER_WEIGHTS_PATH", "") // empty -> built-in weights
	v.SetDefault("REVIEW_THRESHOLD", 0.7)
	v.SetDefault("RULE_SHORT_CIRCUIT", 0.85)
	v.SetDefault("SEMANTIC_TOP_K", 20)
	v.SetDefault("RERANK_TOP_N", 5)
	v.SetDefault("SEMANTIC_TIMEOUT", "3s")
	v.SetDefault("PAUSE_THRESHOLD", 3)
	v.SetDefault("PAUSE_WINDOW", "1h")
	v.SetDefault("PROTECTED_RESOURCES", "mapping_entries,mapping_current,mapping_versions")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("AUTH_JWT_SECRET")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("WEAVIATE_URL")
	v.BindEnv("WEAVIATE_CLASS")
	v.BindEnv("EMBEDDING_URL")
	v.BindEnv("EMBEDDING_MODEL_VERSION")
	v.BindEnv("RULES_PATH")
	v.BindEnv("RERANKER_WEIGHTS_PATH")
	v.BindEnv("REVIEW_THRESHOLD")
	v.BindEnv("RULE_SHORT_CIRCUIT")
	v.BindEnv("SEMANTIC_TOP_K")
	v.BindEnv("RERANK_TOP_N")
	v.BindEnv("SEMANTIC_TIMEOUT")
	v.BindEnv("PAUSE_THRESHOLD")
	v.BindEnv("PAUSE_WINDOW")
	v.BindEnv("PROTECTED_RESOURCES")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.ProtectedResources == nil {
		if protected := v.GetString("PROTECTED_RESOURCES"); protected != "" {
			cfg.ProtectedResources = strings.Split(protected, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development implies "development" (all
// requests get admin access) and anything else implies "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret must be configured so every audit record carries a real actor.
// Threshold values are range-checked: a review threshold outside (0,1] either
// spams the review queue or never fills it, and a pause threshold below 1
// would halt the orchestrator on the first blocked write regardless of policy.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.AuthSecret == "" {
		return fmt.Errorf(
			"AUTH_JWT_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.ReviewThreshold <= 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("REVIEW_THRESHOLD must be in (0,1], got %v", c.ReviewThreshold)
	}
	if c.RuleShortCircuit <= 0 || c.RuleShortCircuit > 1 {
		return fmt.Errorf("RULE_SHORT_CIRCUIT must be in (0,1], got %v", c.RuleShortCircuit)
	}
	if c.SemanticTopK <= 0 {
		return fmt.Errorf("SEMANTIC_TOP_K must be positive, got %d", c.SemanticTopK)
	}
	if c.RerankTopN <= 0 {
		return fmt.Errorf("RERANK_TOP_N must be positive, got %d", c.RerankTopN)
	}
	if c.PauseThreshold < 1 {
		return fmt.Errorf("PAUSE_THRESHOLD must be at least 1, got %d", c.PauseThreshold)
	}
	if c.PauseWindow <= 0 {
		return fmt.Errorf("PAUSE_WINDOW must be positive, got %v", c.PauseWindow)
	}
	if c.SemanticTimeout <= 0 {
		return fmt.Errorf("SEMANTIC_TIMEOUT must be positive, got %v", c.SemanticTimeout)
	}
	return nil
}
