package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MyMemorySeeder uses the public MyMemory API, one request per text.
type MyMemorySeeder struct {
	email   string
	baseURL string
	client  *http.Client
}

func NewMyMemorySeeder(cfg Config) *MyMemorySeeder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mymemory.translated.net"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MyMemorySeeder{
		email:   cfg.Email,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *MyMemorySeeder) Name() string {
	return "mymemory"
}

func (s *MyMemorySeeder) Seed(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if isAuto(sourceLang) {
		sourceLang = "en"
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		tr, err := s.translate(ctx, text, sourceLang+"|"+targetLang)
		if err != nil {
			return nil, err
		}
		out[i] = tr
	}
	return out, nil
}

func (s *MyMemorySeeder) translate(ctx context.Context, text, langPair string) (string, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", langPair)
	if s.email != "" {
		q.Set("de", s.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/get?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("mymemory: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mymemory: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mymemory: status %d", resp.StatusCode)
	}

	var body struct {
		ResponseData struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
		ResponseStatus  json.Number `json:"responseStatus"`
		ResponseDetails string      `json:"responseDetails"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("mymemory: decode response: %w", err)
	}
	if body.ResponseStatus.String() != "200" {
		return "", fmt.Errorf("mymemory: API error: %s (%s)", body.ResponseDetails, body.ResponseStatus)
	}
	return body.ResponseData.TranslatedText, nil
}
