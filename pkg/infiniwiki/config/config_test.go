package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/cache"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Enrich.ChunkSize != 10 || cfg.Enrich.Workers != 4 {
		t.Errorf("unexpected enrich defaults %+v", cfg.Enrich)
	}
	if cfg.Seed.Name != "Infinite Wiki" || cfg.Seed.Discoverer != "Lau&Five" {
		t.Errorf("unexpected seed defaults %+v", cfg.Seed)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
}

func TestLoadYAML(t *testing.T) {
	chdir(t, t.TempDir())
	for _, k := range []string{"INFINIWIKI_DB_DRIVER", "DATABASE_URL", "INFINIWIKI_CACHE", "INFINIWIKI_CACHE_TTL", "INFINIWIKI_WORKERS"} {
		t.Setenv(k, "")
	}
	path := filepath.Join(t.TempDir(), "infiniwiki.yaml")
	data := `
database:
  driver: postgres
  dsn: postgres://wiki@localhost/wiki
cache:
  backend: redis
  ttl: 90s
enrich:
  workers: 8
lexicon_path: extra.yaml
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://wiki@localhost/wiki" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 90*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Enrich.Workers != 8 || cfg.Enrich.ChunkSize != 10 {
		t.Errorf("enrich = %+v (unset keys keep defaults)", cfg.Enrich)
	}
	if cfg.LexiconPath != "extra.yaml" {
		t.Errorf("lexicon path = %q", cfg.LexiconPath)
	}
}

func TestLoadDotEnvAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("INFINIWIKI_TEST_DOTENV_WORKERS=3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INFINIWIKI_WORKERS", "6")
	t.Setenv("INFINIWIKI_CACHE", "none")
	t.Setenv("INFINIWIKI_TEST_DOTENV_WORKERS", "")
	os.Unsetenv("INFINIWIKI_TEST_DOTENV_WORKERS")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Enrich.Workers != 6 {
		t.Errorf("workers = %d, want env override 6", cfg.Enrich.Workers)
	}
	if cfg.Cache.Backend != "none" {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
	if got := os.Getenv("INFINIWIKI_TEST_DOTENV_WORKERS"); got != "3" {
		t.Errorf(".env not loaded, got %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := Load("/nonexistent/infiniwiki.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("cache: [unclosed"), 0o644)
	_, err := Load(path)
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"DATABASE_URL":               "other.db",
		"OPENAI_API_KEY":             "sk-test",
		"INFINIWIKI_LLM_TIMEOUT":     "5s",
		"INFINIWIKI_ARTICLE_MODEL":   "gpt-x",
		"INFINIWIKI_CANONICAL_MODEL": "",
		"LOG_MODE":                   "production",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Database.DSN != "other.db" || cfg.LLM.APIKey != "sk-test" || cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.LLM.ArticleModel != "gpt-x" || cfg.LLM.CanonicalModel != "gpt-4.1-nano" {
		t.Errorf("models = %q / %q", cfg.LLM.ArticleModel, cfg.LLM.CanonicalModel)
	}
	if cfg.Log.Mode != "production" {
		t.Errorf("log mode = %q", cfg.Log.Mode)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"INFINIWIKI_WORKERS":   "many",
		"INFINIWIKI_CACHE_TTL": "soon",
	}))
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"dsn", func(c *Config) { c.Database.DSN = "" }},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"chunk size", func(c *Config) { c.Enrich.ChunkSize = 0 }},
		{"workers", func(c *Config) { c.Enrich.Workers = -1 }},
		{"log mode", func(c *Config) { c.Log.Mode = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	mem := Default()
	mem.Database = Database{Driver: "memory"}
	if err := mem.Validate(); err != nil {
		t.Fatalf("memory driver needs no dsn: %v", err)
	}
}

func TestLoaderOpen(t *testing.T) {
	cfg := Default()
	cfg.Database = Database{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "wiki.db"), Timeout: 5 * time.Second}
	cfg.Cache.Backend = "memory"
	l := Loader{Config: cfg}

	w, err := l.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	ids, err := w.EnrichUnknownWords(context.Background(), []string{"cats"})
	if err != nil {
		t.Fatalf("EnrichUnknownWords: %v", err)
	}
	if ids["cats"] == "" {
		t.Fatal("expected identifier for cats")
	}
}

func TestLoaderStoresAndCaches(t *testing.T) {
	ctx := context.Background()

	l := Loader{Config: Default()}
	l.Config.Database = Database{Driver: "memory"}
	st, err := l.OpenStore(ctx)
	if err != nil {
		t.Fatalf("OpenStore(memory): %v", err)
	}
	st.Close()

	l.Config.Database.Driver = "oracle"
	if _, err := l.OpenStore(ctx); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	l.Config.Cache.Backend = "none"
	c, err := l.OpenCache(ctx)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if _, ok := c.(cache.Nop); !ok {
		t.Fatalf("expected Nop cache, got %T", c)
	}
}

func TestLoaderLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	data := "forms:\n  - canonical: octopus\n    variants: [octopi]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	l := Loader{Config: Default()}
	l.Config.LexiconPath = path

	rules, err := l.Lemmatizer()
	if err != nil {
		t.Fatalf("Lemmatizer: %v", err)
	}
	got, err := rules.Lemmatize(context.Background(), "octopi")
	if err != nil || got.Base != "octopus" {
		t.Fatalf("octopi -> %+v (%v)", got, err)
	}

	l.Config.LexiconPath = "/nonexistent.yaml"
	if _, err := l.Lemmatizer(); err == nil {
		t.Fatal("expected error for missing lexicon")
	}
}

func TestLoaderModels(t *testing.T) {
	l := Loader{Config: Default()}
	if c, g := l.Models(); c != nil || g != nil {
		t.Fatal("no api key: expected no clients")
	}
	l.Config.LLM.APIKey = "sk-test"
	c, g := l.Models()
	if c == nil || g == nil {
		t.Fatal("expected clients")
	}
	if c.Model != "gpt-4.1-nano" || g.Client.Model != "gpt-4.1" || g.MinWords != 500 {
		t.Errorf("unexpected clients %+v %+v", c, g)
	}
}
