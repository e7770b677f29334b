package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systranHost = "api-systran-systran-translation-v1.p.rapidapi.com"

// SystranSeeder uses the Systran translation API through RapidAPI. The
// endpoint accepts a batch of texts per request.
type SystranSeeder struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSystranSeeder(cfg Config) (*SystranSeeder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("systran: API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + systranHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SystranSeeder{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *SystranSeeder) Name() string {
	return "systran"
}

func (s *SystranSeeder) Seed(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := map[string]any{
		"text":   texts,
		"target": targetLang,
		"format": "text",
	}
	if !isAuto(sourceLang) {
		payload["source"] = sourceLang
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("systran: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/translation/text/translate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("systran: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RapidAPI-Key", s.apiKey)
	req.Header.Set("X-RapidAPI-Host", systranHost)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("systran: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("systran: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body struct {
		Outputs []struct {
			Output string `json:"output"`
		} `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("systran: decode response: %w", err)
	}
	if len(body.Outputs) != len(texts) {
		return nil, fmt.Errorf("systran: got %d outputs for %d texts", len(body.Outputs), len(texts))
	}

	out := make([]string, len(texts))
	for i, o := range body.Outputs {
		out[i] = o.Output
	}
	return out, nil
}
