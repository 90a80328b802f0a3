package mtproto

import (
	"context"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	// AppID and AppHash identify the application, see https://my.telegram.org/apps.
	AppID    int
	AppHash  string
	BotToken string
	// SessionFile keeps the authorization between runs. Empty keeps it in memory.
	SessionFile string
}

// Run connects, logs in as the bot and calls f with a fetcher that is usable
// until f returns. The connection is closed when f returns or ctx is done.
func Run(ctx context.Context, s Settings, f func(ctx context.Context, fetcher *Fetcher) error) error {
	if s.AppID == 0 || s.AppHash == "" {
		return errors.New("no telegram app id or app hash")
	}
	if s.BotToken == "" {
		return errors.New("no telegram token")
	}

	var storage telegram.SessionStorage = &session.StorageMemory{}
	if s.SessionFile != "" {
		storage = &session.FileStorage{Path: s.SessionFile}
	}
	client := telegram.NewClient(s.AppID, s.AppHash, telegram.Options{SessionStorage: storage})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return errors.Wrap(err, "could not get mtproto auth status")
		}
		if !status.Authorized {
			if _, err := client.Auth().Bot(ctx, s.BotToken); err != nil {
				return errors.Wrap(err, "could not log in over mtproto")
			}
		}
		self, err := client.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "could not get mtproto self")
		}
		log.Info().Int64("id", self.ID).Str("username", self.Username).Msg("connected over mtproto")

		return f(ctx, NewFetcher(client.API(), self.ID))
	})
}
