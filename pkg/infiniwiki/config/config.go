package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
)

// Config is the full service configuration
type Config struct {
	Database    Database `yaml:"database"`
	Cache       Cache    `yaml:"cache"`
	LLM         LLM      `yaml:"llm"`
	Enrich      Enrich   `yaml:"enrich"`
	Links       Links    `yaml:"links"`
	LexiconPath string   `yaml:"lexicon_path"`
	Seed        Seed     `yaml:"seed"`
	Log         Log      `yaml:"log"`
}

// Database selects the entry store
type Database struct {
	Driver  string        `yaml:"driver"` // sqlite, postgres, memory
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// Cache selects the cache backend
type Cache struct {
	Backend  string        `yaml:"backend"` // redis, memory, none
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	MaxSize  int           `yaml:"max_size"`
}

// LLM configures the chat completion endpoint
type LLM struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	CanonicalModel   string        `yaml:"canonical_model"`
	ArticleModel     string        `yaml:"article_model"`
	Timeout          time.Duration `yaml:"timeout"`
	CanonicalTimeout time.Duration `yaml:"canonical_timeout"`
	ArticleMinWords  int           `yaml:"article_min_words"`
}

// Enrich sizes the enrichment worker pool
type Enrich struct {
	ChunkSize int `yaml:"chunk_size"`
	Workers   int `yaml:"workers"`
}

// Links configures rendered links
type Links struct {
	BasePath string `yaml:"base_path"`
}

// Seed describes the home article
type Seed struct {
	Name        string `yaml:"name"`
	ContentPath string `yaml:"content_path"`
	Discoverer  string `yaml:"discoverer"`
}

// Log configures the logger
type Log struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Driver: "sqlite", DSN: "wiki.db", Timeout: 30 * time.Second},
		Cache: Cache{
			Backend:  "memory",
			RedisURL: "redis://localhost:6379/0",
			TTL:      5 * time.Minute,
			MaxSize:  1000,
		},
		LLM: LLM{
			BaseURL:          "https://api.openai.com/v1/chat/completions",
			CanonicalModel:   "gpt-4.1-nano",
			ArticleModel:     "gpt-4.1",
			Timeout:          30 * time.Second,
			CanonicalTimeout: 10 * time.Second,
			ArticleMinWords:  500,
		},
		Enrich: Enrich{ChunkSize: 10, Workers: 4},
		Links:  Links{BasePath: "/article/"},
		Seed: Seed{
			Name:        "Infinite Wiki",
			ContentPath: "default_article.txt",
			Discoverer:  "Lau&Five",
		},
		Log: Log{Mode: "development", Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (optional), then environment variables. A .env file in the working
// directory is loaded into the environment first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w: %w", path, internalerr.ErrInvalidConfig, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("INFINIWIKI_DB_DRIVER", &c.Database.Driver)
	str("DATABASE_URL", &c.Database.DSN)
	dur("INFINIWIKI_DB_TIMEOUT", &c.Database.Timeout)
	str("INFINIWIKI_CACHE", &c.Cache.Backend)
	str("REDIS_URL", &c.Cache.RedisURL)
	dur("INFINIWIKI_CACHE_TTL", &c.Cache.TTL)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("INFINIWIKI_CANONICAL_MODEL", &c.LLM.CanonicalModel)
	str("INFINIWIKI_ARTICLE_MODEL", &c.LLM.ArticleModel)
	dur("INFINIWIKI_LLM_TIMEOUT", &c.LLM.Timeout)
	num("INFINIWIKI_WORKERS", &c.Enrich.Workers)
	str("LOG_MODE", &c.Log.Mode)
	str("LOG_LEVEL", &c.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("environment: %w: %w", internalerr.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite, postgres or memory", c.Database.Driver))
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Cache.Backend {
	case "redis", "memory", "none":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q: want redis, memory or none", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Enrich.ChunkSize <= 0 {
		errs = append(errs, errors.New("enrich.chunk_size must be positive"))
	}
	if c.Enrich.Workers <= 0 {
		errs = append(errs, errors.New("enrich.workers must be positive"))
	}
	if c.LLM.ArticleMinWords < 0 {
		errs = append(errs, errors.New("llm.article_min_words must not be negative"))
	}
	switch c.Log.Mode {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("log.mode %q: want development or production", c.Log.Mode))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
