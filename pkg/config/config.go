package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Neo4j     Neo4jConfig
	Zilliz    ZillizConfig
	LLM       LLMConfig
	Artifacts ArtifactsConfig
	Builder   BuilderConfig
	Engine    EngineConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	MaxLimit     int

	RateLimitPerMinute int
	AllowedOrigins     []string
	Development        bool
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	BatchSize      int
	TimeoutSec     int
}

// ArtifactsConfig selects where the engine reads its tables from.
// Source is one of "file", "http" or "sqlite".
type ArtifactsConfig struct {
	Source   string
	Dir      string
	BaseURL  string
	CacheTTL time.Duration
}

type BuilderConfig struct {
	SimilarityThreshold float64
	TopK                int
	ProgressEvery       int
	MergeReferences     bool
	ReferenceTable      string
	ThematicTable       string
	VerseTable          string
	OutputDir           string
}

type EngineConfig struct {
	CacheSize         int
	DefaultMaxResults int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return load("")
}

// LoadFile reads an explicit config file instead of searching the default paths.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/scripture-rag")
	}

	viper.SetEnvPrefix("SCRIPTURE_RAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Artifacts.Source {
	case "file", "http", "sqlite":
	default:
		return fmt.Errorf("invalid artifacts.source %q: want file, http or sqlite", c.Artifacts.Source)
	}
	if c.Artifacts.Source == "http" && c.Artifacts.BaseURL == "" {
		return fmt.Errorf("artifacts.baseURL is required when artifacts.source is http")
	}
	if c.Builder.SimilarityThreshold < -1 || c.Builder.SimilarityThreshold >= 1 {
		return fmt.Errorf("builder.similarityThreshold must be in [-1, 1), got %v", c.Builder.SimilarityThreshold)
	}
	if c.Builder.TopK <= 0 {
		return fmt.Errorf("builder.topK must be positive, got %d", c.Builder.TopK)
	}
	if c.Server.MaxLimit <= 0 {
		return fmt.Errorf("server.maxLimit must be positive, got %d", c.Server.MaxLimit)
	}
	if c.Engine.CacheSize <= 0 {
		return fmt.Errorf("engine.cacheSize must be positive, got %d", c.Engine.CacheSize)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.maxLimit", 50)
	viper.SetDefault("server.rateLimitPerMinute", 120)
	viper.SetDefault("server.allowedOrigins", []string{"*"})
	viper.SetDefault("server.development", false)

	viper.SetDefault("sqlite.enabled", true)
	viper.SetDefault("sqlite.path", "./data/scripture.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("zilliz.endpoint", "localhost:19530")
	viper.SetDefault("zilliz.collectionName", "verse_embeddings")
	viper.SetDefault("zilliz.vectorDim", 384)

	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.batchSize", 100)
	viper.SetDefault("llm.timeoutSec", 30)

	viper.SetDefault("artifacts.source", "file")
	viper.SetDefault("artifacts.dir", "./public/data")
	viper.SetDefault("artifacts.cacheTTL", 24*time.Hour)

	viper.SetDefault("builder.similarityThreshold", 0.3)
	viper.SetDefault("builder.topK", 5)
	viper.SetDefault("builder.progressEvery", 10)
	viper.SetDefault("builder.mergeReferences", true)
	viper.SetDefault("builder.referenceTable", "")
	viper.SetDefault("builder.thematicTable", "")
	viper.SetDefault("builder.verseTable", "./public/data/bible_asv.json")
	viper.SetDefault("builder.outputDir", "./public/data")

	viper.SetDefault("engine.cacheSize", 100)
	viper.SetDefault("engine.defaultMaxResults", 5)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
