// Package telegram implements the chat platform on top of the Telegram Bot API.
//
// The Bot API cannot fetch a message by id. Every message the bot sees
// (incoming updates, the parents embedded in them and the replies it sends)
// is kept in a bounded cache, and GetMessage falls back to a Fetcher, usually
// an MTProto connection, for the messages the cache does not know in full.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/platform"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL     = "https://api.telegram.org"
	DefaultCacheSize   = 10000
	DefaultPollTimeout = 60 * time.Second
)

type Settings struct {
	Token       string
	BaseURL     string
	PollTimeout time.Duration
	CacheSize   int
	HTTPClient  *http.Client
	// Fetcher reads the messages missing from the cache. Without one, only
	// messages seen since startup can be returned.
	Fetcher Fetcher
}

// Fetcher reads a message from the server-side history.
type Fetcher interface {
	GetMessage(ctx context.Context, chatID int64, messageID int) (*platform.Message, error)
}

type messageKey struct {
	chatID    int64
	messageID int
}

type cachedMessage struct {
	message *platform.Message
	// partial messages were only seen embedded as a reply target, so their
	// own reply target is unknown
	partial bool
}

type Client struct {
	bot         *tgbotapi.BotAPI
	pollTimeout time.Duration
	fetcher     Fetcher

	mu    sync.Mutex
	cache *lru.Cache[messageKey, cachedMessage]
}

var _ platform.Platform = (*Client)(nil)
var _ platform.Receiver = (*Client)(nil)

func New(s Settings) (*Client, error) {
	if s.Token == "" {
		return nil, errors.New("no telegram token")
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = DefaultPollTimeout
	}
	if s.CacheSize <= 0 {
		s.CacheSize = DefaultCacheSize
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/bot%s/%s"
	bot, err := tgbotapi.NewBotAPIWithClient(s.Token, endpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to telegram")
	}

	cache, err := lru.New[messageKey, cachedMessage](s.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create message cache")
	}

	log.Info().Str("username", bot.Self.UserName).Int64("id", bot.Self.ID).Msg("connected to telegram")

	return &Client{
		bot:         bot,
		pollTimeout: s.PollTimeout,
		fetcher:     s.Fetcher,
		cache:       cache,
	}, nil
}

func (c *Client) SelfID() int64 {
	return c.bot.Self.ID
}

func (c *Client) UserName() string {
	return c.bot.Self.UserName
}

// remember caches m and the reply target embedded in it.
func (c *Client) remember(m *tgbotapi.Message) *platform.Message {
	msg := convertMessage(m, c.bot.Self.ID)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(messageKey{msg.ChatID, msg.MessageID}, cachedMessage{message: msg})
	if m.ReplyToMessage != nil {
		parent := convertMessage(m.ReplyToMessage, c.bot.Self.ID)
		if parent.ChatID == 0 {
			parent.ChatID = msg.ChatID
		}
		key := messageKey{parent.ChatID, parent.MessageID}
		if existing, ok := c.cache.Peek(key); !ok || existing.partial {
			c.cache.Add(key, cachedMessage{message: parent, partial: true})
		}
	}
	return msg
}

func (c *Client) GetMessage(ctx context.Context, chatID int64, messageID int) (*platform.Message, error) {
	key := messageKey{chatID, messageID}
	c.mu.Lock()
	cached, ok := c.cache.Get(key)
	c.mu.Unlock()
	if ok && !cached.partial {
		return copyMessage(cached.message), nil
	}

	if c.fetcher != nil {
		m, err := c.fetcher.GetMessage(ctx, chatID, messageID)
		if err == nil {
			c.mu.Lock()
			c.cache.Add(key, cachedMessage{message: m})
			c.mu.Unlock()
			return copyMessage(m), nil
		}
		if !ok {
			return nil, err
		}
		log.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Int("message_id", messageID).
			Msg("could not fetch message, using the partial copy")
	}

	if !ok {
		return nil, errors.Wrapf(platform.ErrMessageNotFound, "message %d in chat %d", messageID, chatID)
	}
	log.Ctx(ctx).Debug().Int64("chat_id", chatID).Int("message_id", messageID).
		Msg("only a partial copy of the message is known, its reply target is lost")
	return copyMessage(cached.message), nil
}

func copyMessage(m *platform.Message) *platform.Message {
	ret := *m
	ret.Entities = append([]platform.Entity(nil), m.Entities...)
	return &ret
}

func (c *Client) GetMemberRole(ctx context.Context, chatID int64, userID int64) (permissions.Role, error) {
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not get member %d of chat %d", userID, chatID)
	}
	return permissions.Role(member.Status), nil
}

func (c *Client) SendReply(ctx context.Context, reply platform.Reply) (*platform.Message, error) {
	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	msg.ReplyToMessageID = reply.ReplyTo
	msg.DisableWebPagePreview = true
	msg.Entities = linkEntities(reply.Text, reply.Links)

	sent, err := c.bot.Send(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "could not send reply to message %d", reply.ReplyTo)
	}
	if sent.Chat == nil {
		sent.Chat = &tgbotapi.Chat{ID: reply.ChatID}
	}
	log.Ctx(ctx).Debug().Int("message_id", sent.MessageID).Int("links", len(reply.Links)).Msg("sent reply")
	return c.remember(&sent), nil
}

// Receive long-polls for updates and delivers text messages until ctx is done.
func (c *Client) Receive(ctx context.Context) (<-chan *platform.Message, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(c.pollTimeout / time.Second)
	updates := c.bot.GetUpdatesChan(u)

	out := make(chan *platform.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.EditedMessage != nil {
					c.remember(update.EditedMessage)
				}
				m := update.Message
				if m == nil {
					continue
				}
				msg := c.remember(m)
				if msg.Text == "" || msg.FromSelf {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					c.bot.StopReceivingUpdates()
					return
				}
			}
		}
	}()
	return out, nil
}

// zerologBotLogger routes the library's own logging through zerolog.
type zerologBotLogger struct{}

func (zerologBotLogger) Println(v ...interface{}) {
	log.Debug().Str("component", "telegram-bot-api").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (zerologBotLogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "telegram-bot-api").Msgf(format, v...)
}

func init() {
	_ = tgbotapi.SetLogger(zerologBotLogger{})
}
