package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/backend"
	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/streaming"
	"github.com/parley-chat/parley/pkg/styles"
)

// fakeBackend is a scriptable backend: it emits chunks, optionally blocks
// until released, then returns a result or error.
type fakeBackend struct {
	mu        sync.Mutex
	chunks    []string
	result    *backend.Completion
	err       error
	block     chan struct{}
	lateChunk string

	requests []*backend.ChatRequest
	started  chan struct{}
}

func newFakeBackend(chunks ...string) *fakeBackend {
	return &fakeBackend{
		chunks:  chunks,
		started: make(chan struct{}, 16),
	}
}

func (f *fakeBackend) lastRequest() *backend.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeBackend) Complete(ctx context.Context, req *backend.ChatRequest, onUpdate streaming.UpdateFunc) (*backend.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	f.started <- struct{}{}

	completion := ""
	for _, chunk := range f.chunks {
		completion += chunk
		if err := onUpdate(chunk, completion); err != nil {
			return nil, err
		}
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	if f.lateChunk != "" {
		completion += f.lateChunk
		if err := onUpdate(f.lateChunk, completion); err != nil {
			return nil, err
		}
	}

	if ctx.Err() != nil {
		return nil, &streaming.AbortedError{Partial: completion, Err: ctx.Err()}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &backend.Completion{Text: completion}, nil
}

// recordingManager tracks the content sequence the placeholder passes
// through.
type recordingManager struct {
	conversation.Manager
	mu       sync.Mutex
	contents []string
}

func (m *recordingManager) Update(id conversation.NodeID, patch conversation.Patch) error {
	if patch.Content != nil {
		m.mu.Lock()
		m.contents = append(m.contents, *patch.Content)
		m.mu.Unlock()
	}
	return m.Manager.Update(id, patch)
}

func waitIdle(t *testing.T, handle *TurnHandle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return handle.Wait(ctx)
}

func TestSendSuccess(t *testing.T) {
	fake := newFakeBackend("hi ", "there")
	c := NewController(conversation.NewManager(), fake)

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))

	conv := c.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, conversation.RoleUser, conv[0].Role)
	assert.Equal(t, "hello", conv[0].Content)
	assert.Equal(t, conversation.RoleAssistant, conv[1].Role)
	assert.Equal(t, "hi there", conv[1].Content)
	assert.False(t, conv[1].Streaming)
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError())
}

func TestSendRejectsBlankInput(t *testing.T) {
	c := NewController(conversation.NewManager(), newFakeBackend())

	_, err := c.Send(context.Background(), "   \t")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrEmptyInput))
	assert.Empty(t, c.Conversation())
	assert.Equal(t, StateIdle, c.State())
}

func TestSendWhileStreamingReturnsBusy(t *testing.T) {
	fake := newFakeBackend("chunk")
	fake.block = make(chan struct{})
	c := NewController(conversation.NewManager(), fake)

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	<-fake.started

	before := c.Conversation()
	_, err = c.Send(context.Background(), "again")
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Equal(t, len(before), len(c.Conversation()))

	close(fake.block)
	require.NoError(t, waitIdle(t, handle))
}

func TestPlaceholderContentOrdering(t *testing.T) {
	fake := newFakeBackend("He", "llo")
	rec := &recordingManager{Manager: conversation.NewManager()}
	c := NewController(rec, fake)

	handle, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))

	// the placeholder passes through exactly "He", "Hello", then the final
	// content written on completion
	assert.Equal(t, []string{"He", "Hello", "Hello"}, rec.contents)
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	fake := newFakeBackend("a", "b", "c")
	c := NewController(conversation.NewManager(), fake)

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-handle.done:
				return
			default:
			}
			streamingCount := 0
			for _, msg := range c.Conversation() {
				if msg.Streaming {
					streamingCount++
				}
			}
			assert.LessOrEqual(t, streamingCount, 1)
		}
	}()

	require.NoError(t, waitIdle(t, handle))
	<-done
}

func TestFailedSendRollsBackPlaceholder(t *testing.T) {
	fake := newFakeBackend()
	fake.err = &backend.RequestFailedError{StatusCode: 500, Detail: "overloaded"}
	c := NewController(conversation.NewManager(), fake)

	before := len(c.Conversation())
	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Error(t, waitIdle(t, handle))

	conv := c.Conversation()
	// exactly the user message was added, never the placeholder
	require.Len(t, conv, before+1)
	assert.Equal(t, conversation.RoleUser, conv[len(conv)-1].Role)

	require.Error(t, c.LastError())
	assert.Equal(t, "overloaded", c.LastError().Error())
	assert.Equal(t, StateIdle, c.State())
}

func TestStreamAbortDiscardsPartialContent(t *testing.T) {
	fake := newFakeBackend("par", "tial")
	fake.err = &streaming.AbortedError{Partial: "partial", Err: errors.New("connection reset")}
	c := NewController(conversation.NewManager(), fake)

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Error(t, waitIdle(t, handle))

	conv := c.Conversation()
	require.Len(t, conv, 1)
	assert.Equal(t, conversation.RoleUser, conv[0].Role)

	var aborted *streaming.AbortedError
	assert.True(t, errors.As(c.LastError(), &aborted))
}

func TestRetryReplaysTurn(t *testing.T) {
	fake := newFakeBackend("regenerated")
	manager := conversation.NewManager()
	c := NewController(manager, fake)

	u1 := conversation.NewMessage(conversation.RoleUser, "question")
	a1 := conversation.NewMessage(conversation.RoleAssistant, "first answer")
	require.NoError(t, manager.Append(u1))
	require.NoError(t, manager.Append(a1))

	handle, err := c.Retry(context.Background(), a1.ID)
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.NoError(t, waitIdle(t, handle))

	// the replay request contains the user text and a history strictly
	// before it
	req := fake.lastRequest()
	assert.Equal(t, "question", req.Message)
	assert.Empty(t, req.History)

	conv := c.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, u1.ID, conv[0].ID)
	assert.Equal(t, "regenerated", conv[1].Content)
	assert.NotEqual(t, a1.ID, conv[1].ID)
}

func TestRetryInvalidTargetsAreNoOps(t *testing.T) {
	fake := newFakeBackend("x")
	manager := conversation.NewManager()
	c := NewController(manager, fake)

	a0 := conversation.NewMessage(conversation.RoleAssistant, "greeting")
	u1 := conversation.NewMessage(conversation.RoleUser, "question")
	require.NoError(t, manager.Append(a0))
	require.NoError(t, manager.Append(u1))

	// first message
	handle, err := c.Retry(context.Background(), a0.ID)
	require.NoError(t, err)
	assert.Nil(t, handle)

	// user message
	handle, err = c.Retry(context.Background(), u1.ID)
	require.NoError(t, err)
	assert.Nil(t, handle)

	// unknown id
	handle, err = c.Retry(context.Background(), conversation.NewNodeID())
	require.NoError(t, err)
	assert.Nil(t, handle)

	assert.Len(t, c.Conversation(), 2)
}

func TestResetIsIdempotent(t *testing.T) {
	greeting := conversation.NewMessage(conversation.RoleAssistant, "welcome")
	fake := newFakeBackend("answer")
	c := NewController(conversation.NewManager(), fake, WithSeed(greeting))

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))
	require.Len(t, c.Conversation(), 3)

	c.Reset()
	first := c.Conversation()
	c.Reset()
	second := c.Conversation()

	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.LastError())
}

func TestResetCancelsInFlightTurnAndDropsLateChunks(t *testing.T) {
	greeting := conversation.NewMessage(conversation.RoleAssistant, "welcome")
	fake := newFakeBackend("partial")
	fake.block = make(chan struct{})
	fake.lateChunk = "late"
	c := NewController(conversation.NewManager(), fake, WithSeed(greeting))

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	<-fake.started

	c.Reset()
	assert.Equal(t, StateIdle, c.State())

	// release the backend; its late chunk must be rejected, not applied
	close(fake.block)
	require.Error(t, waitIdle(t, handle))

	conv := c.Conversation()
	require.Len(t, conv, 1)
	assert.Equal(t, "welcome", conv[0].Content)
	assert.NoError(t, c.LastError())
}

func TestConfigChangesRejectedWhileBusy(t *testing.T) {
	fake := newFakeBackend("chunk")
	fake.block = make(chan struct{})
	c := NewController(conversation.NewManager(), fake, WithConfig(TurnConfig{Model: "llama3"}))

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	<-fake.started

	assert.True(t, errors.Is(c.SetModel("qwen"), ErrBusy))
	assert.True(t, errors.Is(c.SetStyle(styles.Style{ID: "concise"}), ErrBusy))
	assert.True(t, errors.Is(c.SetShowReasoning(true), ErrBusy))

	close(fake.block)
	require.NoError(t, waitIdle(t, handle))

	require.NoError(t, c.SetModel("qwen"))

	handle, err = c.Send(context.Background(), "next")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))
	assert.Equal(t, "qwen", fake.lastRequest().Model)
}

func TestConfigSnapshotStylePrefix(t *testing.T) {
	fake := newFakeBackend("ok")
	c := NewController(conversation.NewManager(), fake, WithConfig(TurnConfig{
		Model: "llama3",
		Style: styles.Style{ID: "concise", Prompt: "Keep it short."},
	}))

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))

	assert.Equal(t, "Keep it short.\n\nhello", fake.lastRequest().Message)
	// the stored user message keeps the raw text
	assert.Equal(t, "hello", c.Conversation()[0].Content)
}

func TestReasoningAndSourcesAttachedOnSuccess(t *testing.T) {
	fake := newFakeBackend()
	fake.result = &backend.Completion{
		Text:      "answer",
		Reasoning: "thought about it",
		Sources:   []conversation.Source{{Title: "docs", URL: "https://example.com"}},
	}
	c := NewController(conversation.NewManager(), fake)

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))

	conv := c.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, "answer", conv[1].Content)
	assert.Equal(t, "thought about it", conv[1].Reasoning)
	require.Len(t, conv[1].Sources, 1)
}

func TestEndToEndJSONBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "hi there"})
	}))
	defer server.Close()

	c := NewController(conversation.NewManager(), backend.NewHTTPBackend(server.URL))

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, waitIdle(t, handle))

	conv := c.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, "hello", conv[0].Content)
	assert.Equal(t, "hi there", conv[1].Content)
	assert.False(t, conv[1].Streaming)
	assert.Equal(t, StateIdle, c.State())
}

func TestEndToEndFailingBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail": "overloaded"}`))
	}))
	defer server.Close()

	c := NewController(conversation.NewManager(), backend.NewHTTPBackend(server.URL))

	handle, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Error(t, waitIdle(t, handle))

	conv := c.Conversation()
	require.Len(t, conv, 1)
	assert.Equal(t, conversation.RoleUser, conv[0].Role)
	assert.Equal(t, "overloaded", c.LastError().Error())
	assert.Equal(t, StateIdle, c.State())
}
