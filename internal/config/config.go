// Package config loads peredoc settings with viper and the per-stage model
// routing file with yaml.v3.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/resilience"
	"github.com/valpere/peredoc/internal/stage"
	"github.com/valpere/peredoc/internal/translator"
)

// EnvPrefix prefixes every environment override, e.g. PEREDOC_DB_PATH.
const EnvPrefix = "PEREDOC"

// Providers known to the generation registry. Their keys get defaults so
// environment overrides such as PEREDOC_PROVIDERS_OPENAI_API_KEY apply.
var knownProviders = []string{"openai", "anthropic", "gemini", "openrouter", "ollama"}

type Config struct {
	DBPath       string `mapstructure:"db_path"`
	RoutingFile  string `mapstructure:"routing_file"`
	Memory       bool   `mapstructure:"memory"`
	MaxUnitChars int    `mapstructure:"max_unit_chars"`

	Providers map[string]generation.ServiceConfig `mapstructure:"providers"`
	Policy    resilience.Policy                   `mapstructure:"policy"`
	Budget    budget.Options                      `mapstructure:"budget"`
	Stage     stage.Options                       `mapstructure:"stage"`
	Pipeline  PipelineConfig                      `mapstructure:"pipeline"`
	Seed      translator.Config                   `mapstructure:"seed"`
	Server    ServerConfig                        `mapstructure:"server"`
	Log       LogConfig                           `mapstructure:"log"`
}

type PipelineConfig struct {
	Workers       map[string]int `mapstructure:"workers"`
	QueueSize     int            `mapstructure:"queue_size"`
	PageSize      int            `mapstructure:"page_size"`
	ChunkChars    int            `mapstructure:"chunk_chars"`
	SkipProofread bool           `mapstructure:"skip_proofread"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance with every default set and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("db_path", "./data/peredoc.db")
	v.SetDefault("routing_file", "")
	v.SetDefault("memory", true)
	v.SetDefault("max_unit_chars", 600)

	for _, name := range knownProviders {
		v.SetDefault("providers."+name+".provider", name)
		v.SetDefault("providers."+name+".api_key", "")
		v.SetDefault("providers."+name+".base_url", "")
		v.SetDefault("providers."+name+".timeout", 2*time.Minute)
	}
	v.SetDefault("providers.ollama.base_url", "http://localhost:11434")

	p := resilience.DefaultPolicy()
	v.SetDefault("policy.cap", p.Cap)
	v.SetDefault("policy.min_budget", p.MinBudget)
	v.SetDefault("policy.max_attempts", p.MaxAttempts)
	v.SetDefault("policy.attempt_timeout", p.AttemptTimeout)
	v.SetDefault("policy.call_timeout", p.CallTimeout)
	v.SetDefault("policy.rate_limit_backoff", p.RateLimitBackoff)
	v.SetDefault("policy.max_backoff", p.MaxBackoff)

	v.SetDefault("budget.bytes_per_token", 4)
	v.SetDefault("budget.extra_bytes_per_unit", 24)
	v.SetDefault("budget.floor", 256)

	v.SetDefault("stage.batch_units", 24)
	v.SetDefault("stage.batch_chars", 6000)
	v.SetDefault("stage.concurrency", 2)
	v.SetDefault("stage.segment_concurrency", 2)
	v.SetDefault("stage.segment_depth", 1)
	v.SetDefault("stage.disable_segment", false)
	v.SetDefault("stage.temperature", 0.2)
	v.SetDefault("stage.context_words", 40)
	v.SetDefault("stage.sample_chars", 4000)

	v.SetDefault("pipeline.workers", map[string]int{"profile": 2, "draft": 4, "revise": 2, "proofread": 2})
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.page_size", 20)
	v.SetDefault("pipeline.chunk_chars", 1200)
	v.SetDefault("pipeline.skip_proofread", false)

	v.SetDefault("seed.provider", "none")
	v.SetDefault("seed.credentials", "")
	v.SetDefault("seed.api_key", "")
	v.SetDefault("seed.email", "")
	v.SetDefault("seed.timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v and decodes the result. An empty path looks for
// peredoc.yaml in the working directory; a missing default file is not an
// error, a missing explicit one is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("peredoc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	for name, sc := range cfg.Providers {
		if sc.Provider == "" {
			sc.Provider = name
		}
		if sc.APIKey == "" {
			sc.APIKey = os.Getenv(strings.ToUpper(name) + "_API_KEY")
		}
		cfg.Providers[name] = sc
	}
	return &cfg, nil
}

// Client builds the client for a routed provider. "echo" needs no
// configuration and answers offline.
func (c *Config) Client(ctx context.Context, provider, model string) (generation.Client, error) {
	if provider == "echo" || provider == "mock" {
		return stage.NewEcho(), nil
	}
	sc, ok := c.Providers[provider]
	if !ok {
		sc = generation.ServiceConfig{Provider: provider}
	}
	sc.Model = model
	client, err := generation.New(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", provider, err)
	}
	return client, nil
}
