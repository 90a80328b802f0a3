// Package events carries what happens inside a request (model queries,
// operation calls, replies) over a watermill pub/sub router, so that logging
// and other observers stay out of the orchestration loop.
package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTopic         = "moderator"
	requestIDMetadataKey = "request_id"
)

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
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

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close router")
	}
	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// Sink returns a sink publishing on topic through this router.
func (e *EventRouter) Sink(topic string) *WatermillSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

// LogEvents is a handler writing every event to the global logger.
func LogEvents(msg *message.Message) error {
	e, err := NewEventFromJson(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("could not decode event")
		return nil
	}

	l := log.Info().Str("event_type", string(e.Type())).Object("meta", e.Metadata())
	switch ev := e.(type) {
	case *EventQuery:
		l.Int("iteration", ev.Iteration).Bool("allow_calls", ev.AllowCalls).Int("turns", ev.Turns).Msg("querying model")
	case *EventCall:
		l.Str("operation", ev.Operation).Bool("executed", ev.Executed).Bool("failed", ev.Failed).Str("ref", ev.Ref).Msg("operation called")
	case *EventReply:
		l.Int("links", len(ev.Links)).Int("length", len(ev.Text)).Msg("reply ready")
	case *EventError:
		l.Str("error", ev.ErrorString).Msg("request failed")
	default:
		l.Msg("event")
	}
	return nil
}
