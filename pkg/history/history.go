// Package history rebuilds the dialogue of a reply chain. The chat thread is
// the only memory the bot has: message texts become user and assistant turns,
// and the call record links the bot attached to its own replies are expanded
// back into function call turns.
package history

import (
	"context"
	"strings"

	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/platform"
	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultMaxDepth = 50

// MessageSource fetches messages of a chat by id.
type MessageSource interface {
	GetMessage(ctx context.Context, chatID int64, messageID int) (*platform.Message, error)
}

type Reconstructor struct {
	messages MessageSource
	store    records.Store
	maxDepth int
}

type Option func(*Reconstructor)

// WithMaxDepth bounds the number of ancestors visited. The oldest part of a
// longer chain is left out.
func WithMaxDepth(depth int) Option {
	return func(r *Reconstructor) { r.maxDepth = depth }
}

func New(messages MessageSource, store records.Store, options ...Option) *Reconstructor {
	r := &Reconstructor{
		messages: messages,
		store:    store,
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Reconstruct returns the oldest-first dialogue of the messages trigger
// replies to, excluding trigger itself.
func (r *Reconstructor) Reconstruct(ctx context.Context, trigger *platform.Message) (dialogue.Dialogue, error) {
	logger := log.Ctx(ctx)

	// each visited message contributes a group of turns; groups are collected
	// newest first and reversed at the end
	var groups []dialogue.Dialogue
	current := trigger
	for depth := 0; current.IsReply(); depth++ {
		if depth >= r.maxDepth {
			logger.Warn().Int("max_depth", r.maxDepth).Int("message_id", current.MessageID).
				Msg("reply chain is too long, dropping older messages")
			break
		}

		parent, err := r.messages.GetMessage(ctx, current.ChatID, current.ReplyToID)
		if err != nil {
			if errors.Is(err, platform.ErrMessageNotFound) {
				logger.Debug().Int("message_id", current.ReplyToID).Msg("reply chain ends at an unknown message")
				break
			}
			return nil, errors.Wrapf(err, "could not fetch message %d", current.ReplyToID)
		}

		group, err := r.expand(ctx, parent)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
		current = parent
	}

	ret := dialogue.Dialogue{}
	for i := len(groups) - 1; i >= 0; i-- {
		ret.Append(groups[i]...)
	}
	return ret, nil
}

// expand turns one message into its call turns followed by its text turn.
func (r *Reconstructor) expand(ctx context.Context, m *platform.Message) (dialogue.Dialogue, error) {
	if !m.FromSelf {
		return dialogue.Dialogue{dialogue.NewUserTurn(m.Text)}, nil
	}

	var ret dialogue.Dialogue
	for _, ref := range r.RecordLinks(m) {
		record, err := r.store.Read(ctx, ref)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read call record %s", ref)
		}
		ret.Append(
			dialogue.NewFunctionCallTurn(record.Operation, records.FormatValue(record.Parameters)),
			dialogue.NewFunctionTurn(record.Operation, records.FormatValue(record.Outcome)),
		)
	}
	ret.Append(dialogue.NewAssistantTurn(strings.ReplaceAll(m.Text, platform.LinkMarker, "")))
	return ret, nil
}

// RecordLinks returns the call record references of a message, in the order
// they were attached. Only links the bot itself attached are considered.
func (r *Reconstructor) RecordLinks(m *platform.Message) []string {
	if !m.FromSelf {
		return nil
	}
	var ret []string
	for _, l := range m.Links() {
		if r.store.Owns(l) {
			ret = append(ret, l)
		}
	}
	return ret
}
