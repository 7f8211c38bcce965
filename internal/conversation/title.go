package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"VoidChat/internal/backend"
	"VoidChat/internal/cache"
	"VoidChat/internal/config"
)

const titlePromptFormat = `Based on the following exchange, create a short, clever, and funny title (max 4 words).
User: "%s"
Model: "%s"
Title:`

var quoteStripper = strings.NewReplacer(`"`, "", "“", "", "”", "")

// TitleSummarizer derives a short display title from a session's first
// exchange. It never fails: any problem yields config.FallbackTitle.
type TitleSummarizer struct {
	client      backend.Client
	instruction string
	cache       *cache.Cache
	logger      *slog.Logger
}

// NewTitleSummarizer creates a summarizer. titles may be nil to disable memoization.
func NewTitleSummarizer(client backend.Client, instruction string, titles *cache.Cache, logger *slog.Logger) *TitleSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TitleSummarizer{
		client:      client,
		instruction: instruction,
		cache:       titles,
		logger:      logger,
	}
}

// Summarize returns a title for the exchange.
func (t *TitleSummarizer) Summarize(ctx context.Context, userText, modelText string) string {
	key := cache.GenerateCacheKey(t.instruction, userText, modelText)
	if t.cache != nil {
		if title, ok := t.cache.Get(key); ok {
			t.logger.Debug("title cache hit", "key", key[:16])
			return title
		}
	}

	raw, err := t.client.Generate(ctx, backend.GenerateRequest{
		Prompt:            fmt.Sprintf(titlePromptFormat, userText, modelText),
		SystemInstruction: t.instruction,
	})
	if err != nil {
		t.logger.Warn("title generation failed", "error", err)
		return config.FallbackTitle
	}

	title := strings.TrimSpace(quoteStripper.Replace(raw))
	if title == "" {
		t.logger.Warn("title generation returned no usable text")
		return config.FallbackTitle
	}

	if t.cache != nil {
		t.cache.Put(key, title)
	}
	return title
}
