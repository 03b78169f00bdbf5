package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/pkg/helpers"
)

// ChatEventHandler receives the typed chat events of one session.
type ChatEventHandler interface {
	HandleStart(ctx context.Context, e *EventStart) error
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
	HandleInterrupt(ctx context.Context, e *EventInterrupt) error
}

// EventRouter wires an in-process gochannel pub/sub through a watermill
// router. The session controller publishes on it; UIs and log dumpers
// subscribe.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = helpers.NewWatermill(log.Logger)
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// RegisterChatEventHandler subscribes handler to all chat events on topic.
func (e *EventRouter) RegisterChatEventHandler(topic string, handler ChatEventHandler) {
	e.AddHandler(fmt.Sprintf("chat-%s", topic), topic, dispatchToHandler(handler))
}

func dispatchToHandler(handler ChatEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			// one bad message must not kill the handler
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("failed to parse chat event")
			return nil
		}

		ctx := msg.Context()
		switch e := ev.(type) {
		case *EventStart:
			return handler.HandleStart(ctx, e)
		case *EventPartialCompletion:
			return handler.HandlePartialCompletion(ctx, e)
		case *EventFinal:
			return handler.HandleFinal(ctx, e)
		case *EventError:
			return handler.HandleError(ctx, e)
		case *EventInterrupt:
			return handler.HandleInterrupt(ctx, e)
		default:
			log.Warn().Str("type", string(ev.Type())).Msg("unhandled chat event type")
			return nil
		}
	}
}

// DumpRawEvents is a debugging handler that prints every event as JSON.
func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return err
	}
	if !e.verbose {
		delete(s, "meta")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("closing event router publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
	}
	log.Debug().Msg("closing event router")
	return e.router.Close()
}
