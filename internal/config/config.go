// Package config holds process-wide configuration. Values come from an
// optional YAML file with environment variable overrides; every tunable
// has a default so a zero config is runnable against local services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AIConfig configures the LLM endpoint and the generation models.
type AIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	SmallModel     string        `yaml:"small_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ParseConfig holds the chunking budgets. Every budget in the system is
// enforced with the same tokenizer encoding.
type ParseConfig struct {
	MaxTokens          int    `yaml:"max_tokens"`
	OverlapTokens      int    `yaml:"overlap_tokens"`
	TokenizerEncoding  string `yaml:"tokenizer_encoding"`
	TableMaxTokens     int    `yaml:"table_max_tokens_per_chunk"`
	TableEmptyRowLimit int    `yaml:"table_empty_row_threshold"`
	TableMaxRows       int    `yaml:"table_max_rows_to_scan"`
	LineGapThreshold   int    `yaml:"line_gap_threshold"`
}

// RetrievalConfig bounds search fan-out and context assembly.
type RetrievalConfig struct {
	TopKPerQuery     int           `yaml:"top_k_per_query"`
	Timeout          time.Duration `yaml:"timeout"`
	ContextMaxTokens int           `yaml:"context_max_tokens"`
	NumberMatchBoost float64       `yaml:"number_match_boost"`
}

// VectorConfig configures the vector store and the embedding batcher.
type VectorConfig struct {
	DSN                   string        `yaml:"dsn"`
	Collection            string        `yaml:"collection"`
	Dimensions            int           `yaml:"dimensions"`
	BatchSize             int           `yaml:"batch_size"`
	MaxEmbeddingBatchSize int           `yaml:"max_embedding_batch_size"`
	RateLimitDelay        time.Duration `yaml:"rate_limit_delay"`
	EmbeddingBatchDelay   time.Duration `yaml:"embedding_batch_delay"`
}

// JobsConfig bounds concurrent work and per-job wall clocks.
type JobsConfig struct {
	FileConcurrency    int           `yaml:"file_concurrency"`
	SectionConcurrency int           `yaml:"section_concurrency"`
	SectionTimeout     time.Duration `yaml:"section_timeout"`
	FileTimeout        time.Duration `yaml:"file_timeout"`
	StateTTL           time.Duration `yaml:"state_ttl"`
}

// RedisConfig configures the durable job-state store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// S3Config configures the blob store for originals and derived PDFs.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// DatabaseConfig configures the relational metadata store.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// ConverterConfig points at the document-to-PDF converter service.
type ConverterConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// OCRConfig points at the OCR/layout service.
type OCRConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the root configuration.
type Config struct {
	AI        AIConfig        `yaml:"ai"`
	Parse     ParseConfig     `yaml:"parse"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Vector    VectorConfig    `yaml:"vector"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Redis     RedisConfig     `yaml:"redis"`
	S3        S3Config        `yaml:"s3"`
	Database  DatabaseConfig  `yaml:"database"`
	Converter ConverterConfig `yaml:"converter"`
	OCR       OCRConfig       `yaml:"ocr"`
}

// Default returns a Config with every tunable at its default value.
func Default() Config {
	return Config{
		AI: AIConfig{
			Model:          "gpt-4o",
			SmallModel:     "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.0,
			Timeout:        30 * time.Second,
		},
		Parse: ParseConfig{
			MaxTokens:          1024,
			OverlapTokens:      128,
			TokenizerEncoding:  "cl100k_base",
			TableMaxTokens:     7000,
			TableEmptyRowLimit: 100,
			TableMaxRows:       100000,
			LineGapThreshold:   5,
		},
		Retrieval: RetrievalConfig{
			TopKPerQuery:     50,
			Timeout:          300 * time.Second,
			ContextMaxTokens: 75000,
			NumberMatchBoost: 0.30,
		},
		Vector: VectorConfig{
			DSN:                   "http://localhost:6334",
			Collection:            "chunks",
			Dimensions:            1536,
			BatchSize:             40,
			MaxEmbeddingBatchSize: 500,
			RateLimitDelay:        500 * time.Millisecond,
			EmbeddingBatchDelay:   50 * time.Millisecond,
		},
		Jobs: JobsConfig{
			FileConcurrency:    10,
			SectionConcurrency: 10,
			SectionTimeout:     5 * time.Minute,
			FileTimeout:        10 * time.Minute,
			StateTTL:           time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		S3: S3Config{
			Region: "us-east-1",
			Bucket: "groundline",
		},
		Converter: ConverterConfig{
			URL:     "http://localhost:3000",
			Timeout: 2 * time.Minute,
		},
		OCR: OCRConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. A missing file is not an error; defaults and
// the environment fully describe a runnable config.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.AI.BaseURL, "AI_BASE_URL")
	envStr(&c.AI.APIKey, "AI_API_KEY")
	envStr(&c.AI.Model, "MODEL_NAME")
	envStr(&c.AI.SmallModel, "SMALL_MODEL_NAME")
	envStr(&c.AI.EmbeddingModel, "EMBEDDING_MODEL_NAME")
	envFloat(&c.AI.Temperature, "AI_TEMPERATURE")
	envSeconds(&c.AI.Timeout, "AI_TIMEOUT_SECONDS")

	envInt(&c.Parse.MaxTokens, "PARSE_MAX_TOKENS")
	envInt(&c.Parse.OverlapTokens, "PARSE_OVERLAP_TOKENS")
	envStr(&c.Parse.TokenizerEncoding, "PARSE_TOKENIZER_ENCODING")
	envInt(&c.Parse.TableMaxTokens, "TABLE_MAX_TOKENS_PER_CHUNK")
	envInt(&c.Parse.TableEmptyRowLimit, "TABLE_EMPTY_ROW_THRESHOLD")
	envInt(&c.Parse.TableMaxRows, "TABLE_MAX_ROWS_TO_SCAN")
	envInt(&c.Parse.LineGapThreshold, "LINE_GAP_THRESHOLD")

	envInt(&c.Retrieval.TopKPerQuery, "RETRIEVAL_TOP_K_PER_QUERY")
	envSeconds(&c.Retrieval.Timeout, "RETRIEVAL_TIMEOUT_SECONDS")
	envInt(&c.Retrieval.ContextMaxTokens, "CONTEXT_MAX_TOKENS")
	envFloat(&c.Retrieval.NumberMatchBoost, "NUMBER_MATCH_BOOST")

	envStr(&c.Vector.DSN, "VECTOR_DSN")
	envStr(&c.Vector.Collection, "VECTOR_COLLECTION")
	envInt(&c.Vector.Dimensions, "VECTOR_DIMENSIONS")
	envInt(&c.Vector.BatchSize, "COSMOS_BATCH_SIZE")
	envInt(&c.Vector.MaxEmbeddingBatchSize, "COSMOS_MAX_EMBEDDING_BATCH_SIZE")
	envDuration(&c.Vector.RateLimitDelay, "COSMOS_RATE_LIMIT_DELAY")
	envDuration(&c.Vector.EmbeddingBatchDelay, "COSMOS_EMBEDDING_BATCH_DELAY")

	envInt(&c.Jobs.FileConcurrency, "FILE_PROCESSING_CONCURRENCY")
	envInt(&c.Jobs.SectionConcurrency, "SECTION_PROCESSING_CONCURRENCY")

	envBool(&c.Redis.Enabled, "USE_REDIS")
	envStr(&c.Redis.Addr, "REDIS_ADDR")
	envStr(&c.Redis.Password, "REDIS_PASSWORD")

	envStr(&c.S3.Endpoint, "S3_ENDPOINT")
	envStr(&c.S3.Region, "S3_REGION")
	envStr(&c.S3.Bucket, "S3_BUCKET")
	envStr(&c.S3.AccessKey, "S3_ACCESS_KEY")
	envStr(&c.S3.SecretKey, "S3_SECRET_KEY")
	envBool(&c.S3.UsePathStyle, "S3_USE_PATH_STYLE")

	envStr(&c.Database.ConnectionString, "DATABASE_URL")
	envStr(&c.Converter.URL, "CONVERTER_URL")
	envStr(&c.OCR.Endpoint, "OCR_ENDPOINT")
	envStr(&c.OCR.APIKey, "OCR_API_KEY")
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
