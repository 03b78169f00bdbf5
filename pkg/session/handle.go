package session

import (
	"context"
	"sync"

	"github.com/parley-chat/parley/pkg/conversation"
)

// TurnHandle observes one asynchronous turn. Send and Retry return
// immediately; completion is observed through the handle or through the
// store and event stream.
type TurnHandle struct {
	MessageID conversation.NodeID
	TurnID    string

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newTurnHandle(messageID conversation.NodeID, turnID string, cancel context.CancelFunc) *TurnHandle {
	return &TurnHandle{
		MessageID: messageID,
		TurnID:    turnID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Wait blocks until the turn settles or ctx expires, and returns the turn's
// error, if any.
func (h *TurnHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}

// Err returns the turn's error once it has settled.
func (h *TurnHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel aborts the turn's transport read. The controller rolls the
// placeholder back as it would for any interrupted stream.
func (h *TurnHandle) Cancel() {
	h.cancel()
}

func (h *TurnHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
