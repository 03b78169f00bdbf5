package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/parley-chat/parley/pkg/events"
)

// EventForwarder bridges the event router and the bubbletea program: every
// chat event is delivered to the Update loop as an EventMsg.
type EventForwarder struct {
	send func(tea.Msg)
}

var _ events.ChatEventHandler = (*EventForwarder)(nil)

func NewEventForwarder(send func(tea.Msg)) *EventForwarder {
	return &EventForwarder{send: send}
}

func (f *EventForwarder) HandleStart(ctx context.Context, e *events.EventStart) error {
	f.send(EventMsg{Event: e})
	return nil
}

func (f *EventForwarder) HandlePartialCompletion(ctx context.Context, e *events.EventPartialCompletion) error {
	f.send(EventMsg{Event: e})
	return nil
}

func (f *EventForwarder) HandleFinal(ctx context.Context, e *events.EventFinal) error {
	f.send(EventMsg{Event: e})
	return nil
}

func (f *EventForwarder) HandleError(ctx context.Context, e *events.EventError) error {
	f.send(EventMsg{Event: e})
	return nil
}

func (f *EventForwarder) HandleInterrupt(ctx context.Context, e *events.EventInterrupt) error {
	f.send(EventMsg{Event: e})
	return nil
}
