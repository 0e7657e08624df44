package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *config.CompletionConfig {
	return &config.CompletionConfig{
		ApiUrl:  url,
		ApiKey:  "test-key",
		Model:   "test-model",
		Timeout: time.Second,
	}
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 64, req.MaxTokens)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  Hello there!  "}}]}`)
	}))
	defer server.Close()

	answer, err := NewClient(testConfig(server.URL+"/"), nil).Complete(context.Background(), Request{
		SystemPrompt: "be brief",
		UserPrompt:   "hi",
		MaxTokens:    64,
		Temperature:  0.2,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", answer)
}

func TestClient_NotConfigured(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.ApiKey = ""

	_, err := NewClient(cfg, nil).Complete(context.Background(), Request{UserPrompt: "hi"})

	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL), nil).Complete(context.Background(), Request{UserPrompt: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestClient_MalformedBody(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `<html>oops</html>`,
		"no choices": `{"choices":[]}`,
		"empty text": `{"choices":[{"message":{"content":"   "}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer server.Close()

			_, err := NewClient(testConfig(server.URL), nil).Complete(context.Background(), Request{UserPrompt: "hi"})

			assert.ErrorIs(t, err, ErrBadResponse)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()
	cfg := testConfig(server.URL)
	cfg.Timeout = 20 * time.Millisecond

	_, err := NewClient(cfg, nil).Complete(context.Background(), Request{UserPrompt: "hi"})

	assert.Error(t, err)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()
	cfg := testConfig(server.URL)
	cfg.Retries = 2

	answer, err := NewClient(cfg, nil).Complete(context.Background(), Request{UserPrompt: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(testConfig(server.URL), nil).Complete(context.Background(), Request{UserPrompt: "hi"})

	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
