// Package translator provides machine-translation seeds: quick reference
// translations handed to the draft stage alongside the source text.
package translator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config selects and configures a seeder.
type Config struct {
	Provider    string        `mapstructure:"provider" json:"provider" yaml:"provider"`
	Credentials string        `mapstructure:"credentials" json:"credentials" yaml:"credentials"`
	APIKey      string        `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	Email       string        `mapstructure:"email" json:"email" yaml:"email"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// Seeder translates a batch of texts. Results are aligned with texts.
type Seeder interface {
	Name() string
	Seed(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)
}

// New returns the seeder named by cfg.Provider, or nil when no provider is
// configured.
func New(ctx context.Context, cfg Config) (Seeder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "google":
		return NewGoogleSeeder(ctx, cfg)
	case "mymemory":
		return NewMyMemorySeeder(cfg), nil
	case "systran":
		return NewSystranSeeder(cfg)
	default:
		return nil, fmt.Errorf("translator: unknown seed provider %q", cfg.Provider)
	}
}

func isAuto(lang string) bool {
	return lang == "" || strings.EqualFold(lang, "auto") || lang == "und"
}
