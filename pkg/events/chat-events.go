package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/pkg/conversation"
)

type EventType string

const (
	// EventTypeStart is published when a turn has been dispatched but no
	// content has arrived yet.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	// EventTypeInterrupt is published when an in-flight turn is cancelled
	// by reset or teardown.
	EventTypeInterrupt EventType = "interrupt"
)

// EventMetadata travels with every chat event and identifies the placeholder
// message, the session and the turn it belongs to.
type EventMetadata struct {
	MessageID conversation.NodeID `json:"message_id"`
	SessionID string              `json:"session_id,omitempty"`
	TurnID    string              `json:"turn_id,omitempty"`
	Model     string              `json:"model,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.MessageID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON the event was decoded from, if any
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

type EventStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

// EventPartialCompletion carries one increment of streamed text. Completion
// is the full accumulated string so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text      string                `json:"text"`
	Reasoning string                `json:"reasoning,omitempty"`
	Sources   []conversation.Source `json:"sources,omitempty"`
}

func NewFinalEvent(metadata EventMetadata, text string, reasoning string, sources []conversation.Source) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
		Reasoning: reasoning,
		Sources:   sources,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// EventInterrupt carries whatever partial text had accumulated when the turn
// was cancelled.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

var (
	_ Event = &EventStart{}
	_ Event = &EventPartialCompletion{}
	_ Event = &EventFinal{}
	_ Event = &EventError{}
	_ Event = &EventInterrupt{}
)

// NewEventFromJson decodes a serialized chat event back into its typed form.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr EventImpl
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "could not decode event header")
	}

	var ret Event
	switch hdr.Type_ {
	case EventTypeStart:
		ret = &EventStart{}
	case EventTypePartialCompletion:
		ret = &EventPartialCompletion{}
	case EventTypeFinal:
		ret = &EventFinal{}
	case EventTypeError:
		ret = &EventError{}
	case EventTypeInterrupt:
		ret = &EventInterrupt{}
	default:
		return nil, errors.Errorf("unknown event type %q", hdr.Type_)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s event", hdr.Type_)
	}
	if impl, ok := ret.(interface{ setPayload([]byte) }); ok {
		impl.setPayload(b)
	}

	return ret, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
