// Package platform defines what the bot needs from the chat platform: reading
// messages of a reply chain, looking up a member's role and sending replies.
package platform

import (
	"context"

	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/pkg/errors"
)

var ErrMessageNotFound = errors.New("message not found")

const EntityTextLink = "text_link"

// LinkMarker is the invisible text a call record link is attached to.
const LinkMarker = "\u200e"

// Entity is a rich-text span of a message. Offset and Length are counted in
// runes of the message text.
type Entity struct {
	Type   string
	Offset int
	Length int
	URL    string
}

type Message struct {
	ChatID    int64
	MessageID int
	FromID    int64
	// FromSelf is set when the bot itself authored the message.
	FromSelf bool
	// ReplyToID is the id of the replied-to message, 0 if there is none.
	ReplyToID int
	Text      string
	Entities  []Entity
}

func (m *Message) IsReply() bool {
	return m.ReplyToID != 0
}

// Links returns the URLs of the message's text_link entities, in the order
// they appear in the text.
func (m *Message) Links() []string {
	var ret []string
	for _, e := range m.Entities {
		if e.Type == EntityTextLink && e.URL != "" {
			ret = append(ret, e.URL)
		}
	}
	return ret
}

// Link attaches URL to the span of Text starting at rune offset Offset.
type Link struct {
	Offset int
	Text   string
	URL    string
}

// Reply is an outgoing message answering ReplyTo.
type Reply struct {
	ChatID  int64
	ReplyTo int
	Text    string
	Links   []Link
}

type Platform interface {
	// GetMessage returns the message or an error wrapping ErrMessageNotFound.
	GetMessage(ctx context.Context, chatID int64, messageID int) (*Message, error)
	GetMemberRole(ctx context.Context, chatID int64, userID int64) (permissions.Role, error)
	SendReply(ctx context.Context, reply Reply) (*Message, error)
}

// Receiver delivers incoming messages until ctx is done.
type Receiver interface {
	Receive(ctx context.Context) (<-chan *Message, error)
}
