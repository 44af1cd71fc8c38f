package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Neo4j     Neo4jConfig
	Zilliz    ZillizConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Generator GeneratorConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Web       WebConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type AppConfig struct {
	Environment string
	Debug       bool
}

// IsDevelopment gates stack traces in error responses.
func (a AppConfig) IsDevelopment() bool {
	return a.Debug || strings.EqualFold(a.Environment, "development")
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LLMConfig covers the OpenAI-compatible provider used for embeddings and as
// the secondary generator.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

// GeneratorConfig covers the primary REST generation endpoint.
type GeneratorConfig struct {
	Endpoint         string
	APIKey           string
	Model            string
	TimeoutSec       int
	MaxAttempts      int
	InitialBackoffMs int
	FailureThreshold int
	OpenTimeoutSec   int
}

type PipelineConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	TopK          int
	KnowledgeTopK int
	// UploadDir is the only directory report files may be read from.
	UploadDir string
}

type CacheConfig struct {
	ReportTTLMinutes  int
	EmbeddingTTLHours int
}

func (c CacheConfig) ReportTTL() time.Duration {
	return time.Duration(c.ReportTTLMinutes) * time.Minute
}

func (c CacheConfig) EmbeddingTTL() time.Duration {
	return time.Duration(c.EmbeddingTTLHours) * time.Hour
}

type WebConfig struct {
	Enabled         bool
	TimeoutSec      int
	MaxPages        int
	MaxContentChars int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml from the usual search paths and overlays
// HEALTHSPHERE_* environment variables. A missing file is not an error.
func Load(extraPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range extraPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/healthsphere")

	v.SetEnvPrefix("HEALTHSPHERE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.ChunkSize <= c.Pipeline.ChunkOverlap {
		return fmt.Errorf("invalid config: pipeline.chunkSize (%d) must exceed pipeline.chunkOverlap (%d)",
			c.Pipeline.ChunkSize, c.Pipeline.ChunkOverlap)
	}
	if c.Pipeline.TopK <= 0 {
		return fmt.Errorf("invalid config: pipeline.topK must be positive")
	}
	if strings.TrimSpace(c.Pipeline.UploadDir) == "" {
		return fmt.Errorf("invalid config: pipeline.uploadDir must be set")
	}
	if c.LLM.EmbeddingDim <= 0 {
		return fmt.Errorf("invalid config: llm.embeddingDim must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("zilliz.enabled", false)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.apiKey", "")
	v.SetDefault("zilliz.collectionName", "health_knowledge")

	v.SetDefault("sqlite.path", "./data/healthsphere.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 512)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 384)

	v.SetDefault("generator.endpoint", "")
	v.SetDefault("generator.apiKey", "")
	v.SetDefault("generator.model", "gemini-1.5-flash")
	v.SetDefault("generator.timeoutSec", 60)
	v.SetDefault("generator.maxAttempts", 3)
	v.SetDefault("generator.initialBackoffMs", 1000)
	v.SetDefault("generator.failureThreshold", 5)
	v.SetDefault("generator.openTimeoutSec", 60)

	v.SetDefault("pipeline.chunkSize", 800)
	v.SetDefault("pipeline.chunkOverlap", 100)
	v.SetDefault("pipeline.topK", 12)
	v.SetDefault("pipeline.knowledgeTopK", 4)
	v.SetDefault("pipeline.uploadDir", "./uploads")

	v.SetDefault("cache.reportTTLMinutes", 30)
	v.SetDefault("cache.embeddingTTLHours", 24)

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.timeoutSec", 10)
	v.SetDefault("web.maxPages", 3)
	v.SetDefault("web.maxContentChars", 5000)

	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
