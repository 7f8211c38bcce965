package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"VoidChat/internal/session"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
}

// OllamaResponse represents a response (or one NDJSON stream line) from Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

func (r *OllamaResponse) usage() map[string]interface{} {
	return map[string]interface{}{
		"prompt_eval_count": float64(r.PromptEvalCount),
		"eval_count":        float64(r.EvalCount),
	}
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaClient implements Client against a local Ollama server.
type OllamaClient struct {
	baseURL string
	model   string
	opts    Options
}

// NewOllamaClient creates a client for model served at baseURL.
func NewOllamaClient(baseURL, model string, opts Options) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		opts:    opts.withDefaults(),
	}
}

// ollamaRole maps session roles onto Ollama chat roles.
func ollamaRole(role session.Role) string {
	if role == session.RoleModel {
		return "assistant"
	}
	return string(role)
}

func ollamaMessages(system string, history []session.Message, text string) []map[string]string {
	reqMessages := make([]map[string]string, 0, len(history)+2)
	if system != "" {
		reqMessages = append(reqMessages, map[string]string{"role": "system", "content": system})
	}
	for _, msg := range history {
		reqMessages = append(reqMessages, map[string]string{
			"role":    ollamaRole(msg.Role),
			"content": msg.Text(),
		})
	}
	return append(reqMessages, map[string]string{"role": "user", "content": text})
}

func (c *OllamaClient) post(ctx context.Context, body OllamaRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

// StreamChat opens a streaming /api/chat call. Ollama streams one JSON
// object per line and marks the last one with done=true.
func (c *OllamaClient) StreamChat(ctx context.Context, req ChatRequest) (*Stream, error) {
	ctx, span := c.opts.Tracer.Start(ctx, "ollama_stream_call",
		trace.WithAttributes(attribute.String("model", c.model)),
	)
	start := time.Now()

	reqCtx, cancelReq := context.WithCancel(ctx)
	resp, err := c.post(reqCtx, OllamaRequest{
		Model:    c.model,
		Messages: ollamaMessages(req.SystemInstruction, req.History, req.Text),
		Stream:   true,
	})
	if err != nil {
		cancelReq()
		endSpan(span, err)
		return nil, transportErr("ollama stream", err)
	}

	return NewStream(reqCtx, func(ctx context.Context, emit func(string) error) (err error) {
		stop := context.AfterFunc(ctx, cancelReq)
		defer func() {
			stop()
			cancelReq()
			resp.Body.Close()
			c.opts.recordDuration(context.Background(), "ollama", "stream", start)
			endSpan(span, err)
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		chunks := 0
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk OllamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return transportErr("ollama stream", fmt.Errorf("failed to unmarshal chunk: %w", err))
			}
			if chunk.Error != "" {
				return transportErr("ollama stream", fmt.Errorf("API error: %s", chunk.Error))
			}
			if chunk.Message.Content != "" {
				chunks++
				if err := emit(chunk.Message.Content); err != nil {
					return err
				}
			}
			if chunk.Done {
				if chunks == 0 {
					return transportErr("ollama stream", ErrEmptyResponse)
				}
				c.opts.recordUsage(context.Background(), chunk.usage())
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return transportErr("ollama stream", fmt.Errorf("failed to read stream: %w", err))
		}
		return transportErr("ollama stream", ErrStreamTruncated)
	}), nil
}

// Generate performs a non-streaming /api/chat call.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (text string, err error) {
	ctx, span := c.opts.Tracer.Start(ctx, "ollama_api_call",
		trace.WithAttributes(attribute.String("model", c.model)),
	)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	resp, err := c.post(ctx, OllamaRequest{
		Model:    c.model,
		Messages: ollamaMessages(req.SystemInstruction, nil, req.Prompt),
		Stream:   false,
	})
	if err != nil {
		return "", transportErr("ollama generate", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportErr("ollama generate", fmt.Errorf("failed to read response: %w", err))
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", transportErr("ollama generate", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	c.opts.recordDuration(ctx, "ollama", "generate", start)
	c.opts.recordUsage(ctx, apiResp.usage())

	if apiResp.Message.Content == "" {
		return "", transportErr("ollama generate", ErrEmptyResponse)
	}
	return apiResp.Message.Content, nil
}

// ListModels fetches the list of available Ollama models
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, transportErr("ollama tags", fmt.Errorf("failed to send request (is Ollama running?): %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr("ollama tags", fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, transportErr("ollama tags", fmt.Errorf("API error: %s - %s", resp.Status, string(body)))
	}

	var tagsResp OllamaTagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, transportErr("ollama tags", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	models := make([]ModelInfo, len(tagsResp.Models))
	for i, m := range tagsResp.Models {
		models[i] = ModelInfo{Name: m.Name, Size: m.Size}
	}
	return models, nil
}
