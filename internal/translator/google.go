package translator

import (
	"context"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GoogleSeeder uses the Cloud Translation API. A whole batch goes out in one
// request.
type GoogleSeeder struct {
	client *translate.Client
}

func NewGoogleSeeder(ctx context.Context, cfg Config) (*GoogleSeeder, error) {
	var opts []option.ClientOption
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleSeeder{client: client}, nil
}

func (s *GoogleSeeder) Name() string {
	return "google"
}

func (s *GoogleSeeder) Seed(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	target, err := language.Parse(targetLang)
	if err != nil {
		return nil, fmt.Errorf("google: invalid target language: %w", err)
	}

	opts := &translate.Options{Format: translate.Text}
	if !isAuto(sourceLang) {
		source, err := language.Parse(sourceLang)
		if err != nil {
			return nil, fmt.Errorf("google: invalid source language: %w", err)
		}
		opts.Source = source
	}

	translations, err := s.client.Translate(ctx, texts, target, opts)
	if err != nil {
		return nil, fmt.Errorf("google: translate: %w", err)
	}
	if len(translations) != len(texts) {
		return nil, fmt.Errorf("google: got %d translations for %d texts", len(translations), len(texts))
	}

	out := make([]string, len(translations))
	for i, tr := range translations {
		out[i] = tr.Text
	}
	return out, nil
}

// Close releases the underlying client.
func (s *GoogleSeeder) Close() error {
	return s.client.Close()
}
