package session

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/pkg/backend"
	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/events"
	"github.com/parley-chat/parley/pkg/styles"
)

type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
)

var (
	// ErrBusy is returned when a turn is already in flight. Rejected before
	// any I/O; never queued.
	ErrBusy = errors.New("a turn is already in flight")

	errStaleTurn = errors.New("turn superseded")
)

// TurnConfig is the configuration snapshot one turn is dispatched with.
// Changing it never affects an in-flight turn.
type TurnConfig struct {
	Model         string
	Style         styles.Style
	ShowReasoning bool
}

// Controller owns the conversation and the session state machine. It
// enforces at most one in-flight turn, converts every transport failure
// into a recorded error plus a clean rollback, and publishes chat events
// for read-only subscribers.
type Controller struct {
	manager   conversation.Manager
	backend   backend.Backend
	publisher *events.PublisherManager
	sessionID string

	mu          sync.Mutex
	cfg         TurnConfig
	seed        []*conversation.Message
	state       State
	streamingID conversation.NodeID
	turnID      string
	cancel      context.CancelFunc
	lastErr     error
}

type ControllerOption func(*Controller)

func WithConfig(cfg TurnConfig) ControllerOption {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

// WithSeed sets the messages the conversation starts from and returns to on
// reset, e.g. a single greeting.
func WithSeed(seed ...*conversation.Message) ControllerOption {
	return func(c *Controller) {
		c.seed = seed
	}
}

func NewController(manager conversation.Manager, b backend.Backend, options ...ControllerOption) *Controller {
	ret := &Controller{
		manager:   manager,
		backend:   b,
		publisher: events.NewPublisherManager(),
		sessionID: uuid.NewString(),
		state:     StateIdle,
		cfg: TurnConfig{
			Model: backend.DefaultModel,
		},
	}
	for _, option := range options {
		option(ret)
	}

	if len(ret.seed) > 0 {
		ret.manager.Reset(ret.seed...)
	}

	return ret
}

// AddPublisher subscribes a watermill publisher to this session's chat
// events on the given topic.
func (c *Controller) AddPublisher(topic string, pub message.Publisher) {
	c.publisher.SubscribePublisher(topic, pub)
}

func (c *Controller) SessionID() string {
	return c.sessionID
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error recorded by the most recent failed turn, if
// any. Reset clears it.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// StreamingMessageID returns the id of the currently streaming placeholder.
func (c *Controller) StreamingMessageID() (conversation.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamingID, c.state != StateIdle
}

func (c *Controller) Conversation() conversation.Conversation {
	return c.manager.Conversation()
}

func (c *Controller) Config() TurnConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetModel changes the model for subsequent turns. Rejected while a turn is
// in flight so a mid-stream switch can never retroactively alter it.
func (c *Controller) SetModel(model string) error {
	return c.updateConfig(func(cfg *TurnConfig) {
		cfg.Model = model
	})
}

func (c *Controller) SetStyle(style styles.Style) error {
	return c.updateConfig(func(cfg *TurnConfig) {
		cfg.Style = style
	})
}

func (c *Controller) SetShowReasoning(show bool) error {
	return c.updateConfig(func(cfg *TurnConfig) {
		cfg.ShowReasoning = show
	})
}

func (c *Controller) updateConfig(f func(*TurnConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	f(&c.cfg)
	return nil
}

// Send appends the user message, dispatches a turn with the current
// configuration snapshot and returns a handle on the asynchronous result.
// Rejected with ErrBusy while a turn is in flight and with
// backend.ErrEmptyInput for blank text; neither modifies the conversation.
func (c *Controller) Send(ctx context.Context, text string) (*TurnHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, ErrBusy
	}

	// the payload history is the snapshot taken before this turn's messages
	// are appended, so the placeholder is excluded structurally
	req, err := backend.NewChatRequest(c.manager.Conversation(), text, c.requestConfigLocked())
	if err != nil {
		return nil, err
	}

	if err := c.manager.Append(conversation.NewMessage(conversation.RoleUser, text)); err != nil {
		return nil, err
	}

	return c.beginTurnLocked(ctx, req)
}

// Retry replays the turn that produced the given assistant message: the
// conversation is truncated at that message (inclusive) and the preceding
// user message is re-dispatched against the history strictly before it.
// Invalid targets are a no-op returning a nil handle.
func (c *Controller) Retry(ctx context.Context, id conversation.NodeID) (*TurnHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, ErrBusy
	}

	msgs := c.manager.Conversation()
	idx := -1
	for i, msg := range msgs {
		if msg.ID == id {
			idx = i
			break
		}
	}
	if idx <= 0 || msgs[idx].Role != conversation.RoleAssistant || msgs[idx-1].Role != conversation.RoleUser {
		log.Debug().Str("message_id", id.String()).Msg("retry target is not a replayable assistant message")
		return nil, nil
	}

	req, err := backend.NewChatRequest(msgs[:idx-1], msgs[idx-1].Content, c.requestConfigLocked())
	if err != nil {
		return nil, err
	}

	if err := c.manager.TruncateAfter(id, true); err != nil {
		return nil, err
	}

	return c.beginTurnLocked(ctx, req)
}

// Reset cancels any in-flight turn, restores the conversation to its seed
// and clears the recorded error. Chunks arriving after the cancellation are
// discarded, never applied to a stale placeholder.
func (c *Controller) Reset() {
	c.mu.Lock()
	cancel := c.cancel
	interrupted := c.state != StateIdle

	partial := ""
	var meta events.EventMetadata
	if interrupted {
		if msg, ok := c.manager.GetMessage(c.streamingID); ok {
			partial = msg.Content
		}
		meta = c.eventMetadataLocked(c.streamingID)
	}

	c.clearTurnLocked()
	c.lastErr = nil
	seed := make([]*conversation.Message, len(c.seed))
	copy(seed, c.seed)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.manager.Reset(seed...)

	if interrupted {
		log.Info().Str("session_id", c.sessionID).Int("partial_length", len(partial)).Msg("in-flight turn interrupted by reset")
		c.publisher.PublishBlind(events.NewInterruptEvent(meta, partial))
	}
}

// Close cancels any in-flight turn without reseeding the conversation. Used
// on view teardown.
func (c *Controller) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.clearTurnLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (c *Controller) requestConfigLocked() backend.RequestConfig {
	return backend.RequestConfig{
		Model:         c.cfg.Model,
		Style:         c.cfg.Style,
		ShowReasoning: c.cfg.ShowReasoning,
	}
}

// beginTurnLocked appends the placeholder, transitions to Sending and spawns
// the turn goroutine. Must be called with the mutex held, state Idle.
func (c *Controller) beginTurnLocked(ctx context.Context, req *backend.ChatRequest) (*TurnHandle, error) {
	placeholder := conversation.NewPlaceholder()
	if err := c.manager.Append(placeholder); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.state = StateSending
	c.streamingID = placeholder.ID
	c.turnID = uuid.NewString()
	c.cancel = cancel
	c.lastErr = nil

	meta := c.eventMetadataLocked(placeholder.ID)
	handle := newTurnHandle(placeholder.ID, c.turnID, cancel)

	log.Debug().
		Str("session_id", c.sessionID).
		Str("turn_id", c.turnID).
		Str("model", req.Model).
		Int("history_length", len(req.History)).
		Msg("dispatching turn")

	go c.runTurn(runCtx, handle, req, meta)

	return handle, nil
}

func (c *Controller) runTurn(ctx context.Context, handle *TurnHandle, req *backend.ChatRequest, meta events.EventMetadata) {
	c.publisher.PublishBlind(events.NewStartEvent(meta))

	onUpdate := func(delta, completion string) error {
		return c.applyChunk(ctx, handle, delta, completion)
	}

	completion, err := c.backend.Complete(ctx, req, onUpdate)
	handle.finish(c.finishTurn(handle, completion, err))
}

// applyChunk folds one increment into the placeholder. Chunks belonging to a
// superseded turn are dropped.
func (c *Controller) applyChunk(ctx context.Context, handle *TurnHandle, delta, completion string) error {
	c.mu.Lock()
	if c.turnID != handle.TurnID {
		c.mu.Unlock()
		return errStaleTurn
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state == StateSending {
		c.state = StateStreaming
	}
	meta := c.eventMetadataLocked(handle.MessageID)
	c.mu.Unlock()

	if err := c.manager.Update(handle.MessageID, conversation.Patch{Content: &completion}); err != nil {
		return err
	}

	c.publisher.PublishBlind(events.NewPartialCompletionEvent(meta, delta, completion))
	return nil
}

// finishTurn settles the turn: on success the placeholder is finalized, on
// failure it is removed entirely and the error recorded. A turn superseded
// by reset is ignored; reset already cleaned up.
func (c *Controller) finishTurn(handle *TurnHandle, completion *backend.Completion, err error) error {
	c.mu.Lock()
	if c.turnID != handle.TurnID {
		c.mu.Unlock()
		log.Debug().Str("turn_id", handle.TurnID).Msg("discarding result of superseded turn")
		return err
	}

	meta := c.eventMetadataLocked(handle.MessageID)
	c.clearTurnLocked()

	if err != nil {
		c.lastErr = err
		c.mu.Unlock()

		if truncErr := c.manager.TruncateAfter(handle.MessageID, true); truncErr != nil {
			log.Warn().Err(truncErr).Str("message_id", handle.MessageID.String()).Msg("could not remove placeholder")
		}

		if errors.Is(err, context.Canceled) {
			log.Info().Str("turn_id", handle.TurnID).Msg("turn cancelled")
			c.publisher.PublishBlind(events.NewInterruptEvent(meta, ""))
		} else {
			log.Warn().Err(err).Str("turn_id", handle.TurnID).Msg("turn failed")
			c.publisher.PublishBlind(events.NewErrorEvent(meta, err))
		}
		return err
	}

	c.lastErr = nil
	c.mu.Unlock()

	notStreaming := false
	patch := conversation.Patch{
		Content:   &completion.Text,
		Streaming: &notStreaming,
		Sources:   completion.Sources,
	}
	if completion.Reasoning != "" {
		patch.Reasoning = &completion.Reasoning
	}
	if updateErr := c.manager.Update(handle.MessageID, patch); updateErr != nil {
		log.Warn().Err(updateErr).Str("message_id", handle.MessageID.String()).Msg("could not finalize placeholder")
	}

	c.publisher.PublishBlind(events.NewFinalEvent(meta, completion.Text, completion.Reasoning, completion.Sources))
	return nil
}

// clearTurnLocked returns the session to Idle. Bumping turnID to empty makes
// any late chunk or completion from the old turn fail the stale check.
func (c *Controller) clearTurnLocked() {
	c.state = StateIdle
	c.streamingID = conversation.NullNode
	c.turnID = ""
	c.cancel = nil
}

func (c *Controller) eventMetadataLocked(id conversation.NodeID) events.EventMetadata {
	return events.EventMetadata{
		MessageID: id,
		SessionID: c.sessionID,
		TurnID:    c.turnID,
		Model:     c.cfg.Model,
	}
}
