package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-chat/parley/pkg/streaming"
)

// SimulatedBackend reveals canned replies at a bounded, randomized per-tick
// rate. It is used when no live backend is attached; downstream code cannot
// tell it apart from a network stream.
type SimulatedBackend struct {
	mu      sync.Mutex
	replies []string
	next    int
	options []streaming.RevealOption
}

var _ Backend = (*SimulatedBackend)(nil)

// DefaultCannedReplies cycle when no replies are configured.
var DefaultCannedReplies = []string{
	"This is a simulated reply. Point parley at a real backend with --server to talk to an actual model.",
	"Still simulating. Every reply is revealed a few characters at a time, just like a live stream would be.",
}

func NewSimulatedBackend(replies []string, options ...streaming.RevealOption) *SimulatedBackend {
	if len(replies) == 0 {
		replies = DefaultCannedReplies
	}
	return &SimulatedBackend{
		replies: replies,
		options: options,
	}
}

func (b *SimulatedBackend) Complete(ctx context.Context, req *ChatRequest, onUpdate streaming.UpdateFunc) (*Completion, error) {
	b.mu.Lock()
	reply := b.replies[b.next%len(b.replies)]
	b.next++
	b.mu.Unlock()

	final, err := streaming.Reveal(ctx, reply, onUpdate, b.options...)
	if err != nil {
		return nil, err
	}

	completion := &Completion{Text: final, Model: req.Model}
	if req.ShowReasoning {
		completion.Reasoning = fmt.Sprintf("Simulated reasoning for a %d-character prompt.", len(req.Message))
	}
	return completion, nil
}
