package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
	ctxKeyMetadata
)

// WithEventSinks attaches sinks to the context, after any already present.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := GetEventSinks(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

func GetEventSinks(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

// WithMetadata stores the metadata events published for this request carry.
func WithMetadata(ctx context.Context, metadata EventMetadata) context.Context {
	return context.WithValue(ctx, ctxKeyMetadata, metadata)
}

func MetadataFromContext(ctx context.Context) EventMetadata {
	if v, ok := ctx.Value(ctxKeyMetadata).(EventMetadata); ok {
		return v
	}
	return EventMetadata{}
}

// PublishEventToContext publishes event to every sink in the context. Sink
// errors are logged and otherwise ignored.
func PublishEventToContext(ctx context.Context, event Event) {
	sinks := GetEventSinks(ctx)
	if len(sinks) == 0 {
		return
	}
	for _, sink := range sinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("event_type", string(event.Type())).Msg("could not publish event")
		}
	}
}
