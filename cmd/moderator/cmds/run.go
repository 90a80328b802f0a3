package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/moderator/pkg/bot"
	"github.com/go-go-golems/moderator/pkg/config"
	"github.com/go-go-golems/moderator/pkg/events"
	"github.com/go-go-golems/moderator/pkg/history"
	"github.com/go-go-golems/moderator/pkg/platform/mtproto"
	"github.com/go-go-golems/moderator/pkg/platform/telegram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Telegram and answer messages addressed to the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(config.ComponentTelegram, config.ComponentOpenAI, config.ComponentTelegraph, config.ComponentMTProto)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, s)
		},
	}

	cmd.Flags().String("trigger", bot.DefaultTrigger, "Keyword that addresses the bot")
	cmd.Flags().Int("workers", bot.DefaultWorkers, "Number of requests handled concurrently")
	cmd.Flags().Bool("mtproto", true, "Fetch reply chain messages over MTProto (needs telegram.app-id and telegram.app-hash)")
	bindFlag(cmd, "telegram.trigger", "trigger")
	bindFlag(cmd, "telegram.workers", "workers")
	bindFlag(cmd, "telegram.mtproto", "mtproto")

	return cmd
}

func run(ctx context.Context, s *config.Settings) error {
	if !s.Telegram.MTProto {
		log.Warn().Msg("mtproto is disabled, reply chains only reach back to messages seen since startup")
		return serve(ctx, s, nil)
	}
	err := mtproto.Run(ctx, s.MTProtoSettings(), func(ctx context.Context, f *mtproto.Fetcher) error {
		return serve(ctx, s, f)
	})
	// the mtproto connection reports the shutdown as an error
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func serve(ctx context.Context, s *config.Settings, fetcher telegram.Fetcher) error {
	store, err := s.RecordStore()
	if err != nil {
		return err
	}
	p, err := newPipeline(s, store)
	if err != nil {
		return err
	}

	ts := s.TelegramClientSettings()
	ts.Fetcher = fetcher
	client, err := telegram.New(ts)
	if err != nil {
		return err
	}
	log.Info().Str("bot", client.UserName()).Strs("operations", p.catalogue.Names()).Msg("connected to telegram")

	router, err := events.NewEventRouter(events.WithLogger(events.NewWatermill(log.Logger)))
	if err != nil {
		return err
	}
	router.AddHandler("log-events", events.DefaultTopic, events.LogEvents)

	options := []bot.HandlerOption{
		bot.WithTrigger(s.Telegram.Trigger),
		bot.WithBotName(client.UserName()),
		bot.WithEventSinks(router.Sink(events.DefaultTopic)),
	}
	if p.counter != nil {
		options = append(options, bot.WithTokenBudget(s.OpenAI.ContextTokens, p.counter))
	}
	handler := bot.NewHandler(
		client,
		history.New(client, store, history.WithMaxDepth(s.Bot.MaxHistoryDepth)),
		p.loop,
		p.prompt,
		p.catalogue,
		p.table,
		options...,
	)
	dispatcher := bot.NewDispatcher(client, handler, s.Telegram.Workers)

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(groupCtx)
	})
	eg.Go(func() error {
		defer func() {
			_ = router.Close()
		}()
		select {
		case <-router.Running():
		case <-groupCtx.Done():
			return nil
		}
		return dispatcher.Run(groupCtx)
	})

	err = eg.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
