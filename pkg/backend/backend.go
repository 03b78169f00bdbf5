package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/streaming"
	"github.com/parley-chat/parley/pkg/styles"
)

// ErrEmptyInput is returned when the user text is blank after trimming.
// Rejected before any I/O happens.
var ErrEmptyInput = errors.New("message is empty")

// RequestFailedError is a non-success transport status, carrying the
// best-effort error detail extracted from the response body.
type RequestFailedError struct {
	StatusCode int
	Detail     string
}

func (e *RequestFailedError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("chat request failed with status %d", e.StatusCode)
}

// HistoryEntry is one prior turn in the outbound payload.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to POST /chat. History holds the prior
// turns in store order; Message is the new user text with the style prompt
// already applied.
type ChatRequest struct {
	Model         string         `json:"model"`
	Message       string         `json:"message"`
	History       []HistoryEntry `json:"history"`
	ShowReasoning bool           `json:"showReasoning,omitempty"`
}

// RequestConfig is the per-turn configuration snapshot the request is built
// from.
type RequestConfig struct {
	Model         string
	Style         styles.Style
	ShowReasoning bool
}

// NewChatRequest validates the user text and assembles the outbound payload.
// The history must not include the in-flight placeholder; callers pass the
// snapshot taken before the turn started.
func NewChatRequest(history conversation.Conversation, text string, cfg RequestConfig) (*ChatRequest, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	message := cfg.Style.Apply(text)

	entries := make([]HistoryEntry, 0, len(history))
	for _, msg := range history {
		if msg.Streaming {
			continue
		}
		entries = append(entries, HistoryEntry{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return &ChatRequest{
		Model:         cfg.Model,
		Message:       message,
		History:       entries,
		ShowReasoning: cfg.ShowReasoning,
	}, nil
}

// Completion is the finished result of one turn.
type Completion struct {
	Text      string
	Reasoning string
	Sources   []conversation.Source
	Model     string
}

// Backend issues one chat turn against a text-generation service. onUpdate
// is invoked for every increment regardless of whether the service answered
// with a single JSON object or an open-ended stream, so callers are agnostic
// to which producer is in effect.
type Backend interface {
	Complete(ctx context.Context, req *ChatRequest, onUpdate streaming.UpdateFunc) (*Completion, error)
}
