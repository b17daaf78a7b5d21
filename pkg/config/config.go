package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	SQLite      SQLiteConfig
	Neo4j       Neo4jConfig
	Redis       RedisConfig
	LLM         LLMConfig
	Experiments ExperimentsConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

// StorageConfig selects the repository backend: memory, sqlite or neo4j.
type StorageConfig struct {
	Driver string
}

type SQLiteConfig struct {
	Path string
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	CacheTTLSec int
}

type LLMConfig struct {
	Enabled             bool
	APIKey              string
	BaseURL             string
	DefaultModel        string
	// JudgeModel grades executed responses into quality_score; empty disables it.
	JudgeModel          string
	Temperature         float32
	MaxTokens           int
	TimeoutSec          int
	PromptCostPer1K     float64
	CompletionCostPer1K float64
}

type ExperimentsConfig struct {
	DefaultDurationDays int
	DefaultSignificance float64
	SignificanceMethod  string
	SplitTolerance      float64
	ExpirySweepInterval int
	MaxSubjectIDLength  int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom reads configuration through v, so tests can supply an isolated instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/model-bridge")

	v.SetEnvPrefix("MODEL_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "neo4j":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	switch c.Experiments.SignificanceMethod {
	case "threshold", "two_proportion_z":
	default:
		return fmt.Errorf("unsupported significance method: %q", c.Experiments.SignificanceMethod)
	}

	if c.Experiments.DefaultSignificance <= 0 || c.Experiments.DefaultSignificance >= 1 {
		return fmt.Errorf("experiments.defaultSignificance must be in (0, 1), got %v", c.Experiments.DefaultSignificance)
	}
	if c.Experiments.DefaultDurationDays <= 0 {
		return fmt.Errorf("experiments.defaultDurationDays must be positive, got %d", c.Experiments.DefaultDurationDays)
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.apiKey is required when llm.enabled is true")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("storage.driver", "sqlite")

	v.SetDefault("sqlite.path", "./data/experiments.db")

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cacheTTLSec", 300)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.defaultModel", "gpt-4o-mini")
	v.SetDefault("llm.judgeModel", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.promptCostPer1K", 0.00015)
	v.SetDefault("llm.completionCostPer1K", 0.0006)

	v.SetDefault("experiments.defaultDurationDays", 30)
	v.SetDefault("experiments.defaultSignificance", 0.05)
	v.SetDefault("experiments.significanceMethod", "threshold")
	v.SetDefault("experiments.splitTolerance", 0.01)
	v.SetDefault("experiments.expirySweepInterval", 0)
	v.SetDefault("experiments.maxSubjectIDLength", 256)

	v.SetDefault("rateLimit.requestsPerMinute", 600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
