// Package config loads the typed configuration of kgctl and the worker:
// a .env file, then the environment, then an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/query"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI       AIConfig       `yaml:"ai"`
	Store    StoreConfig    `yaml:"store"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Extract  ExtractConfig  `yaml:"extract"`
	Retrieve RetrieveConfig `yaml:"retrieve"`
	Infer    InferConfig    `yaml:"infer"`
	Backfill BackfillConfig `yaml:"backfill"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	S3       S3Config       `yaml:"s3"`
	Log      LogConfig      `yaml:"log"`
}

type AIConfig struct {
	Adapter      string        `yaml:"adapter" validate:"oneof=openai ollama none"`
	ChatURL      string        `yaml:"chat_url"`
	ChatKey      string        `yaml:"chat_key"`
	ExtractModel string        `yaml:"extract_model"`
	EmbedURL     string        `yaml:"embed_url"`
	EmbedKey     string        `yaml:"embed_key"`
	EmbedModel   string        `yaml:"embed_model"`
	EmbedDim     int           `yaml:"embed_dim" validate:"gt=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	Parallel     int           `yaml:"parallel" validate:"gt=0"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=pgx neo4j memory"`
	DatabaseURL   string        `yaml:"database_url"`
	Neo4jURI      string        `yaml:"neo4j_uri"`
	Neo4jUser     string        `yaml:"neo4j_user"`
	Neo4jPassword string        `yaml:"neo4j_password"`
	Neo4jDatabase string        `yaml:"neo4j_database"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

type IngestConfig struct {
	MaxBytes int64 `yaml:"max_bytes" validate:"gt=0"`
	Workers  int   `yaml:"workers" validate:"gt=0"`
}

type ExtractConfig struct {
	Parallel   int           `yaml:"parallel" validate:"gt=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gt=0"`
	Backoff    time.Duration `yaml:"backoff" validate:"gte=0"`
	UnitTokens int           `yaml:"unit_tokens" validate:"gte=64"`
}

type RetrieveConfig struct {
	VectorWeight    float64       `yaml:"vector_weight" validate:"gte=0,lte=1"`
	GraphWeight     float64       `yaml:"graph_weight" validate:"gte=0,lte=1"`
	Decay           float64       `yaml:"decay" validate:"gt=0,lt=1"`
	MaxHops         int           `yaml:"max_hops" validate:"gte=0,lte=6"`
	CandidateFactor int           `yaml:"candidate_factor" validate:"gte=1"`
	InferredWeight  float64       `yaml:"inferred_weight" validate:"gte=0,lte=1"`
	Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`
}

type InferConfig struct {
	MinCommon     int           `yaml:"min_common" validate:"gte=1"`
	AllowedKinds  []string      `yaml:"allowed_kinds"`
	MaxCandidates int           `yaml:"max_candidates" validate:"gt=0"`
	Interval      time.Duration `yaml:"interval" validate:"gte=0"`
	Scope         string        `yaml:"scope"`
}

type BackfillConfig struct {
	Backend  string        `yaml:"backend" validate:"oneof=memory redis"`
	RedisURL string        `yaml:"redis_url"`
	Key      string        `yaml:"key"`
	Batch    int           `yaml:"batch" validate:"gt=0"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

type RabbitMQConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// URL is the AMQP connection string.
func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

type LogConfig struct {
	Debug  bool   `yaml:"debug"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// FromEnv reads every key from the environment, using defaults for the
// missing ones.
func FromEnv() *Config {
	return &Config{
		AI: AIConfig{
			Adapter:      util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			ExtractModel: util.GetEnv("AI_EXTRACT_MODEL"),
			EmbedURL:     util.GetEnv("AI_EMBED_URL"),
			EmbedKey:     util.GetEnv("AI_EMBED_KEY"),
			EmbedModel:   util.GetEnv("AI_EMBED_MODEL"),
			EmbedDim:     util.GetEnvInt("AI_EMBED_DIM", 1536),
			Timeout:      util.GetEnvDuration("AI_TIMEOUT", 60*time.Second),
			Parallel:     util.GetEnvInt("AI_PARALLEL_REQ", 4),
		},
		Store: StoreConfig{
			Backend:       util.GetEnvString("STORE_BACKEND", "pgx"),
			DatabaseURL:   util.GetEnv("DATABASE_URL"),
			Neo4jURI:      util.GetEnv("NEO4J_URI"),
			Neo4jUser:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Neo4jPassword: util.GetEnv("NEO4J_PASSWORD"),
			Neo4jDatabase: util.GetEnvString("NEO4J_DATABASE", "neo4j"),
			Timeout:       util.GetEnvDuration("STORE_TIMEOUT", 30*time.Second),
		},
		Ingest: IngestConfig{
			MaxBytes: int64(util.GetEnvNumeric("INGEST_MAX_BYTES", 50<<20)),
			Workers:  util.GetEnvInt("INGEST_WORKERS", 4),
		},
		Extract: ExtractConfig{
			Parallel:   util.GetEnvInt("EXTRACT_PARALLEL", 4),
			MaxRetries: util.GetEnvInt("EXTRACT_MAX_RETRIES", 3),
			Backoff:    time.Duration(util.GetEnvInt("EXTRACT_BACKOFF_MS", 500)) * time.Millisecond,
			UnitTokens: util.GetEnvInt("EXTRACT_UNIT_TOKENS", 800),
		},
		Retrieve: RetrieveConfig{
			VectorWeight:    util.GetEnvNumeric("RETRIEVE_VECTOR_WEIGHT", 0.7),
			GraphWeight:     util.GetEnvNumeric("RETRIEVE_GRAPH_WEIGHT", 0.3),
			Decay:           util.GetEnvNumeric("RETRIEVE_DECAY", 0.5),
			MaxHops:         util.GetEnvInt("RETRIEVE_MAX_HOPS", 2),
			CandidateFactor: util.GetEnvInt("RETRIEVE_CANDIDATE_FACTOR", 3),
			InferredWeight:  util.GetEnvNumeric("RETRIEVE_INFERRED_WEIGHT", 0.5),
			Timeout:         util.GetEnvDuration("RETRIEVE_TIMEOUT", 30*time.Second),
		},
		Infer: InferConfig{
			MinCommon:     util.GetEnvInt("INFER_MIN_COMMON", 2),
			AllowedKinds:  util.GetEnvList("INFER_ALLOWED_KINDS", nil),
			MaxCandidates: util.GetEnvInt("INFER_MAX_CANDIDATES", 200),
			Interval:      util.GetEnvDuration("INFER_INTERVAL", 0),
			Scope:         util.GetEnv("INFER_SCOPE"),
		},
		Backfill: BackfillConfig{
			Backend:  util.GetEnvString("BACKFILL_BACKEND", "memory"),
			RedisURL: util.GetEnvString("REDIS_ADDR", "redis://localhost:6379/0"),
			Key:      util.GetEnv("BACKFILL_KEY"),
			Batch:    util.GetEnvInt("BACKFILL_BATCH", 64),
			Interval: util.GetEnvDuration("BACKFILL_INTERVAL", 30*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		S3: S3Config{
			Region:    util.GetEnv("AWS_REGION"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		Log: LogConfig{
			Debug:  util.GetEnvBool("LOG_DEBUG", false),
			Format: util.GetEnvString("LOG_FORMAT", "console"),
		},
	}
}

// Load reads .env, the environment and then the YAML file at path, or at
// KG_CONFIG_FILE when path is empty. Values set in the file win.
func Load(path string) (*Config, error) {
	util.LoadEnv()
	cfg := FromEnv()

	if path == "" {
		path = util.GetEnv("KG_CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and the settings each backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	switch c.Store.Backend {
	case "pgx":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the pgx store"))
		}
	case "neo4j":
		if c.Store.Neo4jURI == "" {
			errs = append(errs, errors.New("NEO4J_URI is required for the neo4j store"))
		}
	}
	if c.Backfill.Backend == "redis" && c.Backfill.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis backfill queue"))
	}
	if w := c.Retrieve.VectorWeight + c.Retrieve.GraphWeight; w < 0.999 || w > 1.001 {
		errs = append(errs, fmt.Errorf("retrieve weights must sum to 1, got %.3f", w))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// QueryOptions converts the retrieval settings.
func (c RetrieveConfig) QueryOptions() query.Options {
	opts := query.DefaultOptions()
	opts.VectorWeight = c.VectorWeight
	opts.GraphWeight = c.GraphWeight
	opts.Decay = c.Decay
	opts.MaxHops = c.MaxHops
	opts.CandidateFactor = c.CandidateFactor
	opts.InferredWeight = c.InferredWeight
	opts.Timeout = c.Timeout
	return opts
}
