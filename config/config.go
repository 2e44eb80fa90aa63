package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	SecretsFromEnv = "env"
	SecretsFromAWS = "aws"
)

// Config holds every setting shared by the service, the lambda and the CLI.
type Config struct {
	OpenAI     OpenAIConfig     `envPrefix:"OPENAI_"`
	OpenSearch OpenSearchConfig `envPrefix:"OPENSEARCH_"`
	Ingest     IngestConfig     `envPrefix:"INGEST_"`
	Secrets    SecretsConfig    `envPrefix:"SECRETS_"`

	// Older deployments named the chat key GPT_API_KEY and the ingestion key OPENAI_API_KEY.
	LegacyAPIKey string `env:"GPT_API_KEY"`

	IndexName       string        `env:"INDEX_NAME" envDefault:"daily-goods-prices"`
	TopK            int           `env:"TOP_K" envDefault:"5"`
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

type OpenAIConfig struct {
	APIKey              string        `env:"API_KEY"`
	BaseURL             string        `env:"BASE_URL"`
	ChatModel           string        `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel      string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-large"`
	EmbeddingDimensions int           `env:"EMBEDDING_DIMENSIONS" envDefault:"3072"`
	Timeout             time.Duration `env:"TIMEOUT" envDefault:"60s"`
	Retry               RetryConfig   `envPrefix:"RETRY_"`
}

// RetryConfig is the retry policy applied to OpenAI calls. Attempts counts the first call.
type RetryConfig struct {
	Attempts uint          `env:"ATTEMPTS" envDefault:"3"`
	Delay    time.Duration `env:"DELAY" envDefault:"500ms"`
	MaxDelay time.Duration `env:"MAX_DELAY" envDefault:"5s"`
}

type OpenSearchConfig struct {
	Addresses          []string `env:"ADDRESSES" envSeparator:"," envDefault:"https://localhost:9200"`
	Username           string   `env:"USERNAME"`
	Password           string   `env:"PASSWORD"`
	InsecureSkipVerify bool     `env:"INSECURE_SKIP_VERIFY" envDefault:"false"`
	AWSSigning         bool     `env:"AWS_SIGNING" envDefault:"false"`
	AWSService         string   `env:"AWS_SERVICE" envDefault:"es"`
}

type IngestConfig struct {
	CSVPath      string  `env:"CSV_PATH" envDefault:"data.csv"`
	CSVEncoding  string  `env:"CSV_ENCODING" envDefault:"euc-kr"`
	ChunkSize    int     `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap int     `env:"CHUNK_OVERLAP" envDefault:"100"`
	BatchSize    int     `env:"BATCH_SIZE" envDefault:"100"`
	Concurrency  int     `env:"CONCURRENCY" envDefault:"1"`
	RateLimit    float64 `env:"RATE_LIMIT" envDefault:"0"`
}

type SecretsConfig struct {
	Source               string `env:"SOURCE" envDefault:"env"`
	OpenAIKeyID          string `env:"OPENAI_ID" envDefault:"openai-api-key"`
	OpenSearchUsernameID string `env:"OPENSEARCH_USERNAME_ID" envDefault:"os-username"`
	OpenSearchPasswordID string `env:"OPENSEARCH_PASSWORD_ID" envDefault:"os-password"`
}

// Load reads an optional .env file, then the process environment. When SECRETS_SOURCE is "aws" the API
// keys are fetched from Secrets Manager before validation.
func Load(ctx context.Context, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = cfg.LegacyAPIKey
	}

	if cfg.Secrets.Source == SecretsFromAWS {
		client, err := newSecretsManagerClient(ctx)
		if err != nil {
			return nil, err
		}
		if err := applySecrets(ctx, &cfg, client); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY (or GPT_API_KEY) is required"))
	}
	if c.OpenAI.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimensions must be positive, got %d", c.OpenAI.EmbeddingDimensions))
	}
	if c.OpenAI.Retry.Attempts == 0 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top k must be positive, got %d", c.TopK))
	}
	if c.IndexName == "" {
		errs = append(errs, errors.New("index name is required"))
	}
	if len(c.OpenSearch.Addresses) == 0 {
		errs = append(errs, errors.New("at least one opensearch address is required"))
	}
	if c.Ingest.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.Ingest.ChunkSize))
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Ingest.ChunkSize, c.Ingest.ChunkOverlap))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.Ingest.BatchSize))
	}
	if c.Ingest.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Ingest.Concurrency))
	}
	if c.Ingest.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.Ingest.RateLimit))
	}
	switch c.Secrets.Source {
	case SecretsFromEnv, SecretsFromAWS:
	default:
		errs = append(errs, fmt.Errorf("unknown secrets source %q", c.Secrets.Source))
	}
	return errors.Join(errs...)
}

// ListenAddr is the host:port the chat service binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
