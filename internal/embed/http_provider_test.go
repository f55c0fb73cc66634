package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_OpenAIShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openAIResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{1, 2, 3}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Shape:      ShapeOpenAI,
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 3,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)

	out, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{1, 2, 3}, out[0])
	assert.Equal(t, "openai:text-embedding-3-small", p.Name())
}

func TestHTTPProvider_OllamaShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embeddings: [][]float32{{4, 5}, {6, 7}}})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Shape:      ShapeOllama,
		BaseURL:    srv.URL,
		Model:      "nomic-embed-text",
		Dimensions: 2,
	})
	require.NoError(t, err)

	out, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4, 5}, {6, 7}}, out)
}

func TestHTTPProvider_UnauthorizedIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Shape:      ShapeOpenAI,
		BaseURL:    srv.URL,
		Model:      "m",
		Dimensions: 3,
		Retry:      RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"a"})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPProvider_BadRequestIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad model"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Shape:      ShapeOpenAI,
		BaseURL:    srv.URL,
		Model:      "m",
		Dimensions: 3,
		Retry:      RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)

	_, err = p.EmbedBatch(context.Background(), []string{"a"})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPProvider_TooManyRequestsIsRetriedUntilSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limited"}`))
			return
		}
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := openAIResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{{Embedding: []float32{1, 2, 3}, Index: 0}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Shape:      ShapeOpenAI,
		BaseURL:    srv.URL,
		Model:      "m",
		Dimensions: 3,
		Retry:      RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)

	out, err := p.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 3, calls)
}

func TestHTTPProvider_MissingBaseURLRejected(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{Shape: ShapeOpenAI, Model: "m", Dimensions: 3})
	assert.Error(t, err)
}
