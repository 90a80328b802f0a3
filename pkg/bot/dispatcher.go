package bot

import (
	"context"

	"github.com/go-go-golems/moderator/pkg/platform"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultWorkers = 4

// Dispatcher feeds incoming messages to the handler, running up to workers
// requests at a time. Requests share nothing but the read-only configuration.
type Dispatcher struct {
	receiver platform.Receiver
	handler  *Handler
	workers  int
}

func NewDispatcher(receiver platform.Receiver, handler *Handler, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{receiver: receiver, handler: handler, workers: workers}
}

// Run blocks until ctx is done and all running requests have finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	messages, err := d.receiver.Receive(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(d.workers)

	for m := range messages {
		m := m
		ok, err := d.handler.ShouldHandle(ctx, m)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int("message_id", m.MessageID).Msg("could not check message")
			continue
		}
		if !ok {
			continue
		}
		g.Go(func() error {
			if _, err := d.handler.Handle(ctx, m); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Int64("chat_id", m.ChatID).
					Int("message_id", m.MessageID).
					Msg("request failed")
			}
			return nil
		})
	}

	return g.Wait()
}
