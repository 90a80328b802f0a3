// Package bot turns incoming chat messages into requests: it decides which
// messages are addressed to the bot, assembles their dialogue, runs the
// orchestration loop and sends the reply.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/events"
	"github.com/go-go-golems/moderator/pkg/history"
	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/orchestrator"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/platform"
	"github.com/go-go-golems/moderator/pkg/prompt"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTrigger = "gptm"

type Handler struct {
	platform  platform.Platform
	history   *history.Reconstructor
	loop      *orchestrator.Loop
	prompt    *prompt.Template
	catalogue *operations.Catalogue
	table     *permissions.Table

	trigger       string
	botName       string
	contextTokens int
	counter       dialogue.TokenCounter
	sinks         []events.EventSink
	now           func() time.Time
}

type HandlerOption func(*Handler)

func WithTrigger(trigger string) HandlerOption {
	return func(h *Handler) { h.trigger = trigger }
}

func WithBotName(name string) HandlerOption {
	return func(h *Handler) { h.botName = name }
}

// WithTokenBudget trims the dialogue to maxTokens before the first query.
// 0 disables trimming.
func WithTokenBudget(maxTokens int, counter dialogue.TokenCounter) HandlerOption {
	return func(h *Handler) {
		h.contextTokens = maxTokens
		h.counter = counter
	}
}

func WithEventSinks(sinks ...events.EventSink) HandlerOption {
	return func(h *Handler) { h.sinks = append(h.sinks, sinks...) }
}

func NewHandler(
	p platform.Platform,
	r *history.Reconstructor,
	loop *orchestrator.Loop,
	tmpl *prompt.Template,
	catalogue *operations.Catalogue,
	table *permissions.Table,
	options ...HandlerOption,
) *Handler {
	h := &Handler{
		platform:  p,
		history:   r,
		loop:      loop,
		prompt:    tmpl,
		catalogue: catalogue,
		table:     table,
		trigger:   DefaultTrigger,
		now:       time.Now,
	}
	for _, o := range options {
		o(h)
	}
	return h
}

// ShouldHandle reports whether m is addressed to the bot: it mentions the
// trigger keyword or replies to one of the bot's messages.
func (h *Handler) ShouldHandle(ctx context.Context, m *platform.Message) (bool, error) {
	if m.FromSelf || strings.TrimSpace(m.Text) == "" {
		return false, nil
	}
	if h.trigger != "" && strings.Contains(m.Text, h.trigger) {
		return true, nil
	}
	if !m.IsReply() {
		return false, nil
	}
	parent, err := h.platform.GetMessage(ctx, m.ChatID, m.ReplyToID)
	if err != nil {
		if errors.Is(err, platform.ErrMessageNotFound) {
			return false, nil
		}
		return false, err
	}
	return parent.FromSelf, nil
}

// Handle runs one request for m and sends the reply. Nothing is sent when it
// fails.
func (h *Handler) Handle(ctx context.Context, m *platform.Message) (*orchestrator.Result, error) {
	requestID := uuid.NewString()
	logger := log.Ctx(ctx).With().
		Str("request_id", requestID).
		Int64("chat_id", m.ChatID).
		Int("message_id", m.MessageID).
		Logger()
	ctx = logger.WithContext(ctx)
	metadata := events.EventMetadata{RequestID: requestID, ChatID: m.ChatID, MessageID: m.MessageID}
	ctx = events.WithMetadata(ctx, metadata)
	ctx = events.WithEventSinks(ctx, h.sinks...)

	res, err := h.handle(ctx, m)
	if err != nil {
		events.PublishEventToContext(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}
	return res, nil
}

func (h *Handler) handle(ctx context.Context, m *platform.Message) (*orchestrator.Result, error) {
	logger := log.Ctx(ctx)

	role, err := h.platform.GetMemberRole(ctx, m.ChatID, m.FromID)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("role", string(role)).Msg("handling request")

	d, err := h.Dialogue(ctx, m, role)
	if err != nil {
		return nil, err
	}

	tc := orchestrator.NewThreadContext(operations.Source{
		ChatID:    m.ChatID,
		MessageID: m.MessageID,
		UserID:    m.FromID,
	}, role, d)
	res, err := h.loop.Run(ctx, tc)
	if err != nil {
		return nil, err
	}

	if _, err := h.platform.SendReply(ctx, tc.Reply.Reply(m.ChatID, m.MessageID)); err != nil {
		return nil, err
	}
	logger.Info().Int("calls", res.Calls).Msg("replied")
	return res, nil
}

// Dialogue assembles the system turn, the history of the reply chain and the
// new user turn.
func (h *Handler) Dialogue(ctx context.Context, m *platform.Message, role permissions.Role) (dialogue.Dialogue, error) {
	system, err := h.prompt.Render(prompt.Data{
		BotName:    h.botName,
		ChatID:     m.ChatID,
		Role:       string(role),
		Operations: h.table.Allowed(role, h.catalogue.Names()),
		Now:        h.now(),
	})
	if err != nil {
		return nil, err
	}

	past, err := h.history.Reconstruct(ctx, m)
	if err != nil {
		return nil, errors.Wrap(err, "could not reconstruct history")
	}

	d := dialogue.Dialogue{dialogue.NewSystemTurn(system)}
	d.Append(past...)
	d.Append(dialogue.NewUserTurn(m.Text))

	return dialogue.Trim(d, h.contextTokens, h.counter), nil
}
