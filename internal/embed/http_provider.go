package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-dev/mdvdb/internal/errs"
)

// Shape selects the wire format of the embeddings endpoint. Self-hosted
// runtimes (Ollama) and hosted ones (OpenAI and its compatible proxies) use
// different request and response envelopes for the same concept.
type Shape string

const (
	ShapeOpenAI Shape = "openai"
	ShapeOllama Shape = "ollama"
)

// HTTPConfig describes an HTTP embedding endpoint.
type HTTPConfig struct {
	Shape      Shape
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	Retry      RetryConfig
}

// HTTPProvider calls a remote embedding endpoint over HTTP, matching either
// the OpenAI or the Ollama request/response shape.
type HTTPProvider struct {
	client *http.Client
	cfg    HTTPConfig
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider builds a provider bound to a single model and endpoint.
// It performs no network I/O at construction time; dimensions must be known
// up front (configured, not auto-detected) so the index's compatibility
// fingerprint is stable before the first embed call.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errs.New(errs.Config, "embedding provider base URL is required")
	}
	if cfg.Model == "" {
		return nil, errs.New(errs.Config, "embedding provider model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errs.New(errs.Config, "embedding provider dimensions must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &HTTPProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}, nil
}

func (p *HTTPProvider) Dimensions() int { return p.cfg.Dimensions }

func (p *HTTPProvider) Name() string {
	return fmt.Sprintf("%s:%s", p.cfg.Shape, p.cfg.Model)
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := withRetry(ctx, p.cfg.Retry, func() error {
		v, err := p.doRequest(ctx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.EmbeddingProvider, "embed batch failed", err)
	}
	return vectors, nil
}

// isRetryableStatus scopes the backoff schedule to rate limiting and
// server-side failures (§4.4); any other 4xx means the request itself is
// wrong and retrying it would just fail the same way again.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (p *HTTPProvider) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	switch p.cfg.Shape {
	case ShapeOllama:
		return p.doOllama(ctx, texts)
	default:
		return p.doOpenAI(ctx, texts)
	}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *HTTPProvider) doOpenAI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(raw))
		if !isRetryableStatus(resp.StatusCode) {
			return nil, &NonRetryableError{Cause: err}
		}
		return nil, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding provider error: %s", parsed.Error.Message)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (p *HTTPProvider) doOllama(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama embed request failed with status %d: %s", resp.StatusCode, string(raw))
		if !isRetryableStatus(resp.StatusCode) {
			return nil, &NonRetryableError{Cause: err}
		}
		return nil, err
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", parsed.Error)
	}

	return parsed.Embeddings, nil
}
