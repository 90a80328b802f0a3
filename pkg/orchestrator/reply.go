package orchestrator

import (
	"strings"

	"github.com/go-go-golems/moderator/pkg/platform"
)

// EmptyReplyText replaces a reply without visible text; the platform rejects
// empty messages.
const EmptyReplyText = "(empty)"

// ReplyBuilder accumulates the reply text and the call record links attached
// to it.
type ReplyBuilder struct {
	text  strings.Builder
	runes int
	links []platform.Link
}

func (r *ReplyBuilder) AppendText(s string) {
	r.text.WriteString(s)
	r.runes += len([]rune(s))
}

// AppendLink appends an invisible marker carrying url.
func (r *ReplyBuilder) AppendLink(url string) {
	r.links = append(r.links, platform.Link{
		Offset: r.runes,
		Text:   platform.LinkMarker,
		URL:    url,
	})
	r.AppendText(platform.LinkMarker)
}

// Text returns the reply text, with the placeholder appended when nothing
// but link markers was written.
func (r *ReplyBuilder) Text() string {
	s := r.text.String()
	if strings.TrimSpace(strings.ReplaceAll(s, platform.LinkMarker, "")) == "" {
		return s + EmptyReplyText
	}
	return s
}

func (r *ReplyBuilder) Links() []platform.Link {
	return append([]platform.Link(nil), r.links...)
}

// Refs returns the URLs of the attached links, in order.
func (r *ReplyBuilder) Refs() []string {
	ret := make([]string, 0, len(r.links))
	for _, l := range r.links {
		ret = append(ret, l.URL)
	}
	return ret
}

func (r *ReplyBuilder) Reply(chatID int64, replyTo int) platform.Reply {
	return platform.Reply{
		ChatID:  chatID,
		ReplyTo: replyTo,
		Text:    r.Text(),
		Links:   r.Links(),
	}
}
