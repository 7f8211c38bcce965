package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"VoidChat/internal/session"
)

// GeminiPart is one text part of a Gemini content block.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiContent is a role-tagged sequence of parts.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiRequest represents the request body for generateContent calls
type GeminiRequest struct {
	Contents          []GeminiContent `json:"contents"`
	SystemInstruction *GeminiContent  `json:"systemInstruction,omitempty"`
}

// GeminiCandidate is one generated alternative.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

// GeminiPromptFeedback reports why a prompt was rejected.
type GeminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// GeminiResponse represents a full response or a single streamed chunk
type GeminiResponse struct {
	Candidates     []GeminiCandidate      `json:"candidates"`
	PromptFeedback *GeminiPromptFeedback  `json:"promptFeedback,omitempty"`
	UsageMetadata  map[string]interface{} `json:"usageMetadata,omitempty"`
}

// Text concatenates the parts of the first candidate.
func (r *GeminiResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FinishReason returns the finish reason of the first candidate, if any.
func (r *GeminiResponse) FinishReason() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

func (r *GeminiResponse) blocked() error {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("prompt blocked: %s", r.PromptFeedback.BlockReason)
	}
	return nil
}

// GeminiClient implements Client against the Gemini REST API.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	opts    Options
}

// NewGeminiClient creates a client for model at baseURL.
func NewGeminiClient(baseURL, apiKey, model string, opts Options) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		opts:    opts.withDefaults(),
	}
}

func geminiContents(history []session.Message, text string) []GeminiContent {
	contents := make([]GeminiContent, 0, len(history)+1)
	for _, msg := range history {
		parts := make([]GeminiPart, len(msg.Parts))
		for i, p := range msg.Parts {
			parts[i] = GeminiPart{Text: p.Text}
		}
		contents = append(contents, GeminiContent{Role: string(msg.Role), Parts: parts})
	}
	return append(contents, GeminiContent{
		Role:  string(session.RoleUser),
		Parts: []GeminiPart{{Text: text}},
	})
}

func systemInstruction(text string) *GeminiContent {
	if text == "" {
		return nil
	}
	return &GeminiContent{Parts: []GeminiPart{{Text: text}}}
}

func (c *GeminiClient) post(ctx context.Context, method string, body GeminiRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:%s", c.baseURL, c.model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StreamChat opens a streamGenerateContent call in SSE mode.
func (c *GeminiClient) StreamChat(ctx context.Context, req ChatRequest) (*Stream, error) {
	ctx, span := c.opts.Tracer.Start(ctx, "gemini_stream_call",
		trace.WithAttributes(
			attribute.String("model", c.model),
			attribute.Int("history.length", len(req.History)),
		),
	)
	start := time.Now()

	reqCtx, cancelReq := context.WithCancel(ctx)
	resp, err := c.post(reqCtx, "streamGenerateContent?alt=sse", GeminiRequest{
		Contents:          geminiContents(req.History, req.Text),
		SystemInstruction: systemInstruction(req.SystemInstruction),
	})
	if err != nil {
		cancelReq()
		endSpan(span, err)
		return nil, transportErr("gemini stream", err)
	}

	return NewStream(reqCtx, func(ctx context.Context, emit func(string) error) (err error) {
		stop := context.AfterFunc(ctx, cancelReq)
		defer func() {
			stop()
			cancelReq()
			resp.Body.Close()
			c.opts.recordDuration(context.Background(), "gemini", "stream", start)
			endSpan(span, err)
		}()

		reader := NewSSEReader(resp.Body)
		chunks := 0
		for {
			_, data, err := reader.ReadEvent()
			if err == io.EOF {
				return transportErr("gemini stream", ErrStreamTruncated)
			}
			if err != nil {
				return transportErr("gemini stream", fmt.Errorf("failed to read stream: %w", err))
			}

			var chunk GeminiResponse
			if err := json.Unmarshal(data, &chunk); err != nil {
				return transportErr("gemini stream", fmt.Errorf("failed to unmarshal chunk: %w", err))
			}
			if err := chunk.blocked(); err != nil {
				return transportErr("gemini stream", err)
			}

			if text := chunk.Text(); text != "" {
				chunks++
				if err := emit(text); err != nil {
					return err
				}
			}

			if reason := chunk.FinishReason(); reason != "" {
				if chunks == 0 {
					return transportErr("gemini stream", fmt.Errorf("finish reason %s: %w", reason, ErrEmptyResponse))
				}
				c.opts.recordUsage(context.Background(), chunk.UsageMetadata)
				span.SetAttributes(
					attribute.String("finish_reason", reason),
					attribute.Int("chunks", chunks),
				)
				return nil
			}
		}
	}), nil
}

// Generate performs a single generateContent call.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (text string, err error) {
	ctx, span := c.opts.Tracer.Start(ctx, "gemini_generate_call",
		trace.WithAttributes(attribute.String("model", c.model)),
	)
	defer func() { endSpan(span, err) }()

	start := time.Now()
	resp, err := c.post(ctx, "generateContent", GeminiRequest{
		Contents: []GeminiContent{{
			Role:  string(session.RoleUser),
			Parts: []GeminiPart{{Text: req.Prompt}},
		}},
		SystemInstruction: systemInstruction(req.SystemInstruction),
	})
	if err != nil {
		return "", transportErr("gemini generate", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportErr("gemini generate", fmt.Errorf("failed to read response: %w", err))
	}

	var apiResp GeminiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", transportErr("gemini generate", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if err := apiResp.blocked(); err != nil {
		return "", transportErr("gemini generate", err)
	}

	c.opts.recordDuration(ctx, "gemini", "generate", start)
	c.opts.recordUsage(ctx, apiResp.UsageMetadata)

	text = apiResp.Text()
	if text == "" {
		return "", transportErr("gemini generate", ErrEmptyResponse)
	}
	return text, nil
}
