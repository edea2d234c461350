/*
PURPOSE:
  Client for an OpenAI-compatible local text-generation service
  (LM Studio style). Handles model discovery and bounded-retry
  chat-completion calls.

REQUIREMENTS:
  User-specified:
  - Discover loaded models (GET /models).
  - Generate text with retry logic (POST /chat/completions).

  Implementation-discovered:
  - Retry classification needs the raw HTTP status: 429 backs off
    linearly, 5xx and transport errors back off flat, other 4xx stop
    immediately.
  - Discovery must fail fast (short timeout) and degrade silently;
    callers treat "no models" as its own user-visible condition.

ARCHITECTURE INTEGRATION:
  - Called by: internal/batch, internal/cli
  - Uses: internal/config, internal/model, internal/output

ERROR HANDLING:
  - Generate returns the last observed error plus the retry count
    consumed, so the batch layer can aggregate retries either way.
  - ErrNoModels is a sentinel; retrying without a model cannot help.

IMPLEMENTATION RULES:
  - Use net/http with per-call context timeouts.
  - Bearer credential in the Authorization header.
  - No mutable session state across calls.

USAGE:
  c := llm.New(cfg)
  models := c.ListModels(ctx)
  text, retries, err := c.Generate(ctx, req)

SELF-HEALING INSTRUCTIONS:
  - If the service API changes, update endpoints (/models, /chat/completions).

RELATED FILES:
  - internal/config/config.go
  - internal/model/types.go

MAINTENANCE:
  - Update for new chat-completion parameters.
*/

package llm

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

	"deckfill/internal/config"
	"deckfill/internal/model"
	"deckfill/internal/output"
)

// ErrNoModels is returned by Generate when discovery finds nothing to
// send a completion to. No retry is attempted in that case.
var ErrNoModels = errors.New("no models available")

// errEmptyResponse covers a 200 with no usable choice content.
// Retryable, but without a backoff sleep.
var errEmptyResponse = errors.New("empty response from API")

// StatusError is a non-2xx reply from the generation service.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// Client talks to one generation service endpoint. Stateless apart
// from its configuration; safe for reuse across calls.
type Client struct {
	Config *config.Config
	HTTP   *http.Client

	// sleep is swapped out in tests to keep the retry timing observable
	// without real delays.
	sleep func(time.Duration)
}

// New creates a new Client.
func New(cfg *config.Config) *Client {
	return &Client{
		Config: cfg,
		// No client-level timeout; each call carries its own context
		// deadline (discovery short, generation long).
		HTTP:  &http.Client{},
		sleep: time.Sleep,
	}
}

// ListModels returns the IDs of the models the service has loaded.
// Any failure (network, bad status, malformed body) degrades to an
// empty list rather than an error.
func (c *Client) ListModels(ctx context.Context) []string {
	models, err := c.fetchModels(ctx)
	if err != nil {
		output.Logger.Error("Model discovery failed", "url", c.Config.BaseURL, "error", err)
		return nil
	}
	return models
}

// TestConnection reports whether the model-listing call succeeds.
// True even when zero models are loaded.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.fetchModels(ctx)
	return err == nil
}

func (c *Client) fetchModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Config.ListTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/models"), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	var ids []string
	for _, m := range payload.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Generate performs one logical generation with bounded retries.
// It returns the generated text and the number of retry attempts
// consumed before success; on failure, the last observed error and
// the attempts made.
func (c *Client) Generate(ctx context.Context, req model.GenerationRequest) (string, int, error) {
	models := c.ListModels(ctx)
	if len(models) == 0 {
		return "", 0, ErrNoModels
	}

	modelID := models[0]
	for _, id := range models {
		if id == req.PreferredModel {
			modelID = id
			break
		}
	}

	payload := chatRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}

	retries := 0
	var lastErr error

	for attempt := 0; attempt < c.Config.MaxRetries; attempt++ {
		text, err := c.complete(ctx, payload)
		if err == nil {
			return text, retries, nil
		}
		lastErr = err

		var se *StatusError
		switch {
		case errors.As(err, &se) && se.Code == http.StatusTooManyRequests:
			// Rate limited: linear backoff.
			c.sleep(c.Config.RetryDelay * time.Duration(attempt+1))
		case errors.As(err, &se) && se.Code >= 500:
			c.sleep(c.Config.RetryDelay)
		case errors.As(err, &se):
			// Other client errors are not recoverable by retry.
			return "", retries, lastErr
		case errors.Is(err, errEmptyResponse):
			// Retry immediately; the service answered, it just gave us nothing.
		default:
			// Transport-level failure (refused, timeout, DNS).
			c.sleep(c.Config.RetryDelay)
		}

		retries++
		output.Logger.Warn("Generation attempt failed", "attempt", attempt+1, "model", modelID, "error", err)
	}

	return "", retries, lastErr
}

func (c *Client) complete(ctx context.Context, payload chatRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Config.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var data chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("invalid completion response: %w", err)
	}
	if len(data.Choices) == 0 {
		return "", errEmptyResponse
	}

	content := strings.TrimSpace(data.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyResponse
	}
	return content, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.Config.BaseURL, "/") + path
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Config.APIKey)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
