// Package backend talks to the remote generative-language services.
package backend

import (
	"context"
	"errors"
	"fmt"

	"VoidChat/internal/session"
)

var (
	// ErrStreamTruncated means the stream ended before its completion signal.
	ErrStreamTruncated = errors.New("stream ended without completion signal")

	// ErrEmptyResponse means the service answered without any text.
	ErrEmptyResponse = errors.New("empty response")
)

// ChatRequest is one streamed conversation turn.
type ChatRequest struct {
	History           []session.Message
	Text              string
	SystemInstruction string
}

// GenerateRequest is a single non-streaming completion.
type GenerateRequest struct {
	Prompt            string
	SystemInstruction string
}

// Client is the remote service contract used by the chat controller.
type Client interface {
	// StreamChat opens a streaming completion over History plus Text.
	StreamChat(ctx context.Context, req ChatRequest) (*Stream, error)

	// Generate returns a single completion for Prompt.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ModelLister is implemented by backends that can enumerate local models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes a model available on the backend.
type ModelInfo struct {
	Name string
	Size int64
}

// TransportError wraps any failure reaching or streaming from a backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportErr(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
