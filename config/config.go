package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the knowledge service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	CaseDB    CaseDBConfig    `mapstructure:"casedb"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains the OpenAI provider configuration.
type LLMConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	ChatModel           string        `mapstructure:"chat_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("llm.api_key required (or OPENAI_API_KEY)")
	}
	if l.EmbeddingDimensions <= 0 {
		return fmt.Errorf("llm.embedding_dimensions must be > 0")
	}
	return nil
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// Configured reports whether enough fields are set to attempt a connection.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" ||
		(strings.TrimSpace(p.Host) != "" && strings.TrimSpace(p.DBName) != "" && strings.TrimSpace(p.User) != "")
}

// RedisConfig contains Redis connection settings for chat transcripts.
// Optional: when host is empty the in-memory transcript store is used.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// CaseDBConfig contains the structured case-records database settings.
// The structured query tool exists only when this section is fully configured.
type CaseDBConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Table    string         `mapstructure:"table"`
	RowLimit int            `mapstructure:"row_limit"`
}

// Normalize applies defaults for unset case database values.
func (c CaseDBConfig) Normalize() CaseDBConfig {
	if strings.TrimSpace(c.Table) == "" {
		c.Table = "completions"
	}
	if c.RowLimit <= 0 {
		c.RowLimit = 200
	}
	return c
}

// IngestConfig contains ingestion pipeline settings.
type IngestConfig struct {
	DocumentsDir string        `mapstructure:"documents_dir"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	ChunkOverlap int           `mapstructure:"chunk_overlap"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchDelay   time.Duration `mapstructure:"batch_delay"`
	SweepCron    string        `mapstructure:"sweep_cron"`
}

// Normalize applies defaults for unset ingestion values.
func (i IngestConfig) Normalize() IngestConfig {
	if i.ChunkSize <= 0 {
		i.ChunkSize = 1000
	}
	if i.ChunkOverlap < 0 {
		i.ChunkOverlap = 100
	}
	if i.BatchSize <= 0 {
		i.BatchSize = 100
	}
	if i.BatchDelay < 0 {
		i.BatchDelay = 0
	}
	return i
}

func (i IngestConfig) Validate() error {
	if i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}
	return nil
}

// RetrievalConfig contains answering loop settings.
type RetrievalConfig struct {
	TopK              int           `mapstructure:"top_k"`
	MaxToolIterations int           `mapstructure:"max_tool_iterations"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
}

// Normalize applies defaults for unset retrieval values.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.TopK <= 0 {
		r.TopK = 4
	}
	if r.MaxToolIterations <= 0 {
		r.MaxToolIterations = 15
	}
	if r.SessionTTL <= 0 {
		r.SessionTTL = time.Hour
	}
	return r
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file and RAYMONDO_* environment variables.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("llm.chat_model", "gpt-4o")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.embedding_dimensions", 1536)
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("ingest.chunk_size", 1000)
	viper.SetDefault("ingest.chunk_overlap", 100)
	viper.SetDefault("ingest.batch_size", 100)
	viper.SetDefault("ingest.batch_delay", "2s")
	viper.SetDefault("retrieval.top_k", 4)
	viper.SetDefault("retrieval.max_tool_iterations", 15)
	viper.SetDefault("retrieval.session_ttl", "1h")
	viper.SetDefault("casedb.table", "completions")
	viper.SetDefault("casedb.row_limit", 200)
	viper.SetDefault("storage.redis.ttl", "24h")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RAYMONDO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.CaseDB = config.CaseDB.Normalize()
	config.Ingest = config.Ingest.Normalize()
	config.Retrieval = config.Retrieval.Normalize()

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	return &config
}
