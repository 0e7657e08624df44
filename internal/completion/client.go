package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrNotConfigured = errors.New("completion service is not configured")
	ErrBadResponse   = errors.New("completion service returned an unusable response")
)

const maxErrorBody = 1 << 10

type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Client talks to an OpenAI compatible chat completions endpoint. Every call is bounded by the
// configured timeout; retries are off unless completion.retries is set.
type Client struct {
	httpClient *http.Client
	cfg        *config.CompletionConfig
}

func NewClient(cfg *config.CompletionConfig, transport http.RoundTripper) *Client {
	return &Client{
		httpClient: &http.Client{Transport: transport},
		cfg:        cfg,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.ApiKey != "" && c.cfg.ApiUrl != ""
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var answer string
	operation := func() error {
		var err error
		answer, err = c.complete(ctx, req)
		if errors.Is(err, ErrBadResponse) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(),
		uint64(max(c.cfg.Retries, 0))), ctx)
	notify := func(err error, wait time.Duration) {
		slog.Warn("completion call failed. retrying...", slog.String("err", err.Error()),
			slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", err
	}

	return answer, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})
	payload, err := jsoniter.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.ApiUrl, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.ApiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("completion service status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
