// Package mtproto reads messages by id over MTProto, which the Bot API has no
// method for. It lets the reply chain of a message be walked even when the bot
// never saw its ancestors, e.g. after a restart.
package mtproto

import (
	"context"
	"sync"

	"github.com/go-go-golems/moderator/pkg/platform"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// channelIDOffset is the Bot API encoding of supergroup and channel ids:
// chat id = -(channelIDOffset + channel id).
const channelIDOffset = 1000000000000

// API is the part of tg.Client the fetcher calls.
type API interface {
	MessagesGetMessages(ctx context.Context, id []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	ChannelsGetMessages(ctx context.Context, request *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
}

var _ API = (*tg.Client)(nil)

// Fetcher fetches single messages, identified the way the Bot API identifies
// them.
type Fetcher struct {
	api    API
	selfID int64

	mu sync.Mutex
	// access hashes of the channels seen so far, by channel id
	hashes map[int64]int64
}

func NewFetcher(api API, selfID int64) *Fetcher {
	return &Fetcher{
		api:    api,
		selfID: selfID,
		hashes: map[int64]int64{},
	}
}

func notFound(chatID int64, messageID int) error {
	return errors.Wrapf(platform.ErrMessageNotFound, "message %d in chat %d", messageID, chatID)
}

func isNotFound(err error) bool {
	return tgerr.Is(err, "MESSAGE_ID_INVALID", "MSG_ID_INVALID", "MESSAGE_IDS_EMPTY", "CHANNEL_INVALID", "CHANNEL_PRIVATE")
}

// GetMessage returns the message or an error wrapping
// platform.ErrMessageNotFound.
func (f *Fetcher) GetMessage(ctx context.Context, chatID int64, messageID int) (*platform.Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}}

	var (
		res tg.MessagesMessagesClass
		err error
	)
	if chatID < -channelIDOffset {
		channel, cerr := f.inputChannel(ctx, -chatID-channelIDOffset)
		if cerr != nil {
			if isNotFound(cerr) {
				return nil, notFound(chatID, messageID)
			}
			return nil, errors.Wrapf(cerr, "could not resolve chat %d", chatID)
		}
		res, err = f.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: channel, ID: ids})
	} else {
		res, err = f.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		if isNotFound(err) {
			return nil, notFound(chatID, messageID)
		}
		return nil, errors.Wrapf(err, "could not fetch message %d in chat %d", messageID, chatID)
	}

	for _, m := range messagesOf(res) {
		msg, ok := m.(*tg.Message)
		if !ok || msg.ID != messageID {
			continue
		}
		// private chats and basic groups share the bot's message id space
		if peerChatID(msg.PeerID) != chatID {
			log.Ctx(ctx).Debug().Int64("chat_id", chatID).Int("message_id", messageID).
				Int64("peer", peerChatID(msg.PeerID)).Msg("fetched message belongs to another chat")
			continue
		}
		return convertMessage(chatID, msg, f.selfID), nil
	}
	return nil, notFound(chatID, messageID)
}

func (f *Fetcher) inputChannel(ctx context.Context, channelID int64) (*tg.InputChannel, error) {
	f.mu.Lock()
	hash, ok := f.hashes[channelID]
	f.mu.Unlock()
	if ok {
		return &tg.InputChannel{ChannelID: channelID, AccessHash: hash}, nil
	}

	// bots may look up a channel they are a member of without its access hash
	res, err := f.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: channelID}})
	if err != nil {
		return nil, err
	}
	var chats []tg.ChatClass
	switch r := res.(type) {
	case *tg.MessagesChats:
		chats = r.Chats
	case *tg.MessagesChatsSlice:
		chats = r.Chats
	}
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok && ch.ID == channelID {
			f.mu.Lock()
			f.hashes[channelID] = ch.AccessHash
			f.mu.Unlock()
			return &tg.InputChannel{ChannelID: channelID, AccessHash: ch.AccessHash}, nil
		}
	}
	return nil, errors.Errorf("channel %d is not accessible", channelID)
}

func messagesOf(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch r := res.(type) {
	case *tg.MessagesMessages:
		return r.Messages
	case *tg.MessagesMessagesSlice:
		return r.Messages
	case *tg.MessagesChannelMessages:
		return r.Messages
	}
	return nil
}

// peerChatID returns the Bot API chat id of peer.
func peerChatID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -channelIDOffset - p.ChannelID
	}
	return 0
}

func convertMessage(chatID int64, m *tg.Message, selfID int64) *platform.Message {
	ret := &platform.Message{
		ChatID:    chatID,
		MessageID: m.ID,
		Text:      m.Message,
		Entities:  convertEntities(m.Message, m.Entities),
	}

	switch from := m.FromID.(type) {
	case *tg.PeerUser:
		ret.FromID = from.UserID
	default:
		// private chats leave the sender out
		if m.Out {
			ret.FromID = selfID
		} else if p, ok := m.PeerID.(*tg.PeerUser); ok {
			ret.FromID = p.UserID
		}
	}
	ret.FromSelf = m.Out || (ret.FromID != 0 && ret.FromID == selfID)

	if h, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
		ret.ReplyToID = h.ReplyToMsgID
	}
	return ret
}

func convertEntities(text string, entities []tg.MessageEntityClass) []platform.Entity {
	runes := []rune(text)
	var ret []platform.Entity
	for _, e := range entities {
		link, ok := e.(*tg.MessageEntityTextURL)
		if !ok {
			continue
		}
		start := platform.UTF16ToRune(runes, link.Offset)
		end := platform.UTF16ToRune(runes, link.Offset+link.Length)
		ret = append(ret, platform.Entity{
			Type:   platform.EntityTextLink,
			Offset: start,
			Length: end - start,
			URL:    link.URL,
		})
	}
	return ret
}
