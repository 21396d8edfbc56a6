// Package modelclient is the HTTP protocol client to one backend model
// server. It speaks the Ollama-style JSON API: /api/tags, /api/generate,
// /api/chat, /api/embeddings.
package modelclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sena-run/core/pkg/models"
)

// State is the client's load state machine: unloaded → loading → loaded,
// with loading → unloaded on failure.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
)

// Overrides are per-call generation parameters layered over the client's
// defaults.
type Overrides struct {
	Temperature *float64
	MaxTokens   *int
	Stop        []string
}

// Response is the result of a non-streaming generate/chat call.
type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	FinishReason     string
}

// Chunk is one piece of a streamed response. The final chunk may carry
// empty content but always has IsFinal true, with Usage populated.
type Chunk struct {
	Content string
	IsFinal bool
	Usage   *Response
}

// Client is a protocol client bound to one backend model.
type Client struct {
	baseURL string
	model   string
	http    *http.Client

	mu    sync.Mutex
	state State
}

// New creates a Client for model on the backend at baseURL.
func New(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: timeout},
		state:   StateUnloaded,
	}
}

// State reports the client's current load state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load verifies the target model exists on the backend, sends a 1-token
// warm-up generation, and marks the client loaded. On any failure the
// state reverts to unloaded.
func (c *Client) Load(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateLoading
	c.mu.Unlock()

	if err := c.verifyModelExists(ctx); err != nil {
		c.mu.Lock()
		c.state = StateUnloaded
		c.mu.Unlock()
		return err
	}

	if err := c.warmUp(ctx); err != nil {
		c.mu.Lock()
		c.state = StateUnloaded
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = StateLoaded
	c.mu.Unlock()
	return nil
}

func (c *Client) verifyModelExists(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}
	defer resp.Body.Close()

	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}

	for _, m := range body.Models {
		if m.Name == c.model {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotFound, c.model)
}

func (c *Client) warmUp(ctx context.Context) error {
	numPredict := 1
	payload := map[string]any{
		"model":  c.model,
		"prompt": "",
		"stream": false,
		"options": map[string]any{
			"num_predict": numPredict,
		},
	}
	_, err := c.post(ctx, "/api/generate", payload)
	return err
}

// Generate runs a non-streaming chat completion.
func (c *Client) Generate(ctx context.Context, messages []models.Message, overrides Overrides) (Response, error) {
	start := time.Now()

	body, err := c.post(ctx, "/api/chat", c.chatPayload(messages, overrides, false))
	if err != nil {
		return Response{}, err
	}

	var decoded struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
		DoneReason      string `json:"done_reason"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Response{}, fmt.Errorf("%w: decoding chat response: %v", ErrBackendConnection, err)
	}

	return Response{
		Content:          decoded.Message.Content,
		Model:            c.model,
		PromptTokens:     decoded.PromptEvalCount,
		CompletionTokens: decoded.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     decoded.DoneReason,
	}, nil
}

// Stream runs a streaming chat completion, returning a finite, not
// restartable sequence of chunks over a channel. The final chunk has
// IsFinal true and carries usage metadata; its content may be empty.
func (c *Client) Stream(ctx context.Context, messages []models.Message, overrides Overrides) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		payload, err := json.Marshal(c.chatPayload(messages, overrides, true))
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrBackendConnection, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrBackendConnection, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrBackendConnection, err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var decoded struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				Done            bool   `json:"done"`
				DoneReason      string `json:"done_reason"`
				PromptEvalCount int    `json:"prompt_eval_count"`
				EvalCount       int    `json:"eval_count"`
			}
			if err := json.Unmarshal(line, &decoded); err != nil {
				select {
				case errs <- fmt.Errorf("%w: decoding stream chunk: %v", ErrBackendConnection, err):
				case <-ctx.Done():
				}
				return
			}

			chunk := Chunk{Content: decoded.Message.Content, IsFinal: decoded.Done}
			if decoded.Done {
				chunk.Usage = &Response{
					Model:            c.model,
					PromptTokens:     decoded.PromptEvalCount,
					CompletionTokens: decoded.EvalCount,
					FinishReason:     decoded.DoneReason,
				}
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}

			if decoded.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case errs <- fmt.Errorf("%w: %v", ErrBackendConnection, err):
			case <-ctx.Done():
			}
		}
	}()

	return chunks, errs
}

// Embed requests an embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := c.post(ctx, "/api/embeddings", map[string]any{
		"model":  c.model,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding embedding response: %v", ErrBackendConnection, err)
	}
	return decoded.Embedding, nil
}

// HealthCheck reports whether the backend currently answers.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Unload releases transport resources. Idempotent.
func (c *Client) Unload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUnloaded {
		return nil
	}
	c.http.CloseIdleConnections()
	c.state = StateUnloaded
	return nil
}

func (c *Client) chatPayload(messages []models.Message, overrides Overrides, stream bool) map[string]any {
	wireMessages := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	options := map[string]any{}
	if overrides.Temperature != nil {
		options["temperature"] = *overrides.Temperature
	}
	if overrides.MaxTokens != nil {
		options["num_predict"] = *overrides.MaxTokens
	}
	if len(overrides.Stop) > 0 {
		options["stop"] = overrides.Stop
	}

	return map[string]any{
		"model":    c.model,
		"messages": wireMessages,
		"stream":   stream,
		"options":  options,
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, c.model)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: backend returned %d: %s", ErrBackendConnection, resp.StatusCode, buf.String())
	}

	return buf.Bytes(), nil
}
