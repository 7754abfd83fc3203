package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3
	backoffMin     = 4 * time.Second
	backoffMax     = 10 * time.Second
)

// Options tune a single generation request. Zero values fall back to the
// client defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
	NumPredict  int
	TopK        int
	TopP        float64
	System      string
}

// Client is an HTTP client for the Ollama generate API.
type Client struct {
	host        string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient creates a new Ollama client with the given defaults.
func NewClient(host, model string, temperature float64, maxTokens int) *Client {
	return &Client{
		host:        strings.TrimRight(host, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Options map[string]any `json:"options"`
	Stream  bool           `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate produces text for a prompt, retrying transient HTTP failures with
// exponential backoff.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	options := map[string]any{
		"temperature": temperature,
		"num_predict": maxTokens,
	}
	if opts.NumPredict > 0 {
		options["num_predict"] = opts.NumPredict
	}
	if opts.TopK > 0 {
		options["top_k"] = opts.TopK
	}
	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	}

	payload := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  opts.System,
		Options: options,
		Stream:  false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	var text string
	backoff := backoffMin
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err = c.doGenerate(ctx, body)
		if err == nil {
			break
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			log.WithFields(log.Fields{
				"error":  err.Error(),
				"model":  c.model,
				"prompt": truncate(prompt, 100),
			}).Error("Ollama generation failed")
			return "", err
		}
		log.WithFields(log.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Ollama request failed, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}

	log.WithFields(log.Fields{
		"model":           c.model,
		"prompt_length":   len(prompt),
		"response_length": len(text),
	}).Debug("Ollama generation completed")

	return text, nil
}

func (c *Client) doGenerate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncate(string(b), 200))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}
	return strings.TrimSpace(result.Response), nil
}

// Health checks that the Ollama server is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
