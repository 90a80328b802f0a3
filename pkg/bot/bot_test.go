package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/events"
	"github.com/go-go-golems/moderator/pkg/executor"
	"github.com/go-go-golems/moderator/pkg/history"
	"github.com/go-go-golems/moderator/pkg/llm"
	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/orchestrator"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/platform"
	"github.com/go-go-golems/moderator/pkg/prompt"
	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID = int64(-1001)

type fakePlatform struct {
	mu       sync.Mutex
	messages map[int]*platform.Message
	roles    map[int64]permissions.Role
	sent     []platform.Reply
	nextID   int
}

func newFakePlatform(messages ...*platform.Message) *fakePlatform {
	f := &fakePlatform{
		messages: map[int]*platform.Message{},
		roles:    map[int64]permissions.Role{},
		nextID:   1000,
	}
	for _, m := range messages {
		f.messages[m.MessageID] = m
	}
	return f
}

func (f *fakePlatform) GetMessage(_ context.Context, _ int64, messageID int) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, errors.Wrapf(platform.ErrMessageNotFound, "message %d", messageID)
	}
	c := *m
	return &c, nil
}

func (f *fakePlatform) GetMemberRole(_ context.Context, _ int64, userID int64) (permissions.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[userID]; ok {
		return r, nil
	}
	return permissions.RoleMember, nil
}

func (f *fakePlatform) SendReply(_ context.Context, reply platform.Reply) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, reply)
	f.nextID++
	m := &platform.Message{
		ChatID:    reply.ChatID,
		MessageID: f.nextID,
		FromSelf:  true,
		ReplyToID: reply.ReplyTo,
		Text:      reply.Text,
	}
	f.messages[m.MessageID] = m
	return m, nil
}

func (f *fakePlatform) Sent() []platform.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Reply(nil), f.sent...)
}

type scriptedEngine struct {
	turns    []llm.ModelTurn
	requests []llm.Request
}

func (s *scriptedEngine) Query(_ context.Context, req llm.Request) (llm.ModelTurn, error) {
	s.requests = append(s.requests, req)
	if len(s.turns) == 0 {
		return nil, errors.New("script exhausted")
	}
	t := s.turns[0]
	s.turns = s.turns[1:]
	return t, nil
}

type fixedExecutor struct {
	result interface{}
}

func (f fixedExecutor) Execute(context.Context, executor.Request) (interface{}, error) {
	return f.result, nil
}

type runeCounter struct{}

func (runeCounter) Count(text string) int {
	return len([]rune(text))
}

func newHandler(t *testing.T, p *fakePlatform, engine llm.Engine, store records.Store, options ...HandlerOption) *Handler {
	catalogue := operations.Builtin()
	table, err := permissions.NewTable(permissions.DefaultEntries(catalogue.Names(), catalogue.ReadOnly()))
	require.NoError(t, err)
	tmpl, err := prompt.Parse("You are {{ .BotName }}. Functions: {{ .Operations | join \",\" }}.")
	require.NoError(t, err)

	loop := orchestrator.New(engine, fixedExecutor{result: 12}, store, catalogue)
	return NewHandler(p, history.New(p, store), loop, tmpl, catalogue, table, options...)
}

func TestShouldHandle(t *testing.T) {
	p := newFakePlatform(
		&platform.Message{ChatID: chatID, MessageID: 1, FromID: 7, Text: "hello"},
		&platform.Message{ChatID: chatID, MessageID: 2, FromSelf: true, Text: "hi there"},
	)
	h := newHandler(t, p, &scriptedEngine{}, records.NewMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name     string
		message  platform.Message
		expected bool
	}{
		{"keyword", platform.Message{ChatID: chatID, MessageID: 10, Text: "gptm how many members?"}, true},
		{"reply to bot", platform.Message{ChatID: chatID, MessageID: 11, ReplyToID: 2, Text: "and now?"}, true},
		{"reply to user", platform.Message{ChatID: chatID, MessageID: 12, ReplyToID: 1, Text: "agreed"}, false},
		{"reply to unknown", platform.Message{ChatID: chatID, MessageID: 13, ReplyToID: 99, Text: "what?"}, false},
		{"plain", platform.Message{ChatID: chatID, MessageID: 14, Text: "nothing to see"}, false},
		{"own message", platform.Message{ChatID: chatID, MessageID: 15, FromSelf: true, Text: "gptm"}, false},
		{"empty", platform.Message{ChatID: chatID, MessageID: 16, Text: "  "}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := c.message
			ok, err := h.ShouldHandle(ctx, &m)
			require.NoError(t, err)
			assert.Equal(t, c.expected, ok)
		})
	}

	h = newHandler(t, p, &scriptedEngine{}, records.NewMemoryStore(), WithTrigger("!mod"))
	ok, err := h.ShouldHandle(ctx, &platform.Message{ChatID: chatID, MessageID: 17, Text: "gptm"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.ShouldHandle(ctx, &platform.Message{ChatID: chatID, MessageID: 18, Text: "!mod pin this"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandleContinuesConversation(t *testing.T) {
	ctx := context.Background()
	store := records.NewMemoryStore()
	ref, err := store.Write(ctx, records.Record{
		Operation:  "getChatMemberCount",
		Parameters: map[string]interface{}{},
		Outcome:    11,
	})
	require.NoError(t, err)

	p := newFakePlatform(
		&platform.Message{ChatID: chatID, MessageID: 4, FromID: 42, Text: "gptm how many members?"},
		&platform.Message{
			ChatID: chatID, MessageID: 5, FromSelf: true, ReplyToID: 4,
			Text:     "\u200eThere are 11 members.",
			Entities: []platform.Entity{{Type: platform.EntityTextLink, Offset: 0, Length: 1, URL: ref}},
		},
	)
	p.roles[42] = permissions.RoleAdministrator

	engine := &scriptedEngine{turns: []llm.ModelTurn{
		llm.FunctionRequest{Name: "getChatMemberCount", Arguments: "{}"},
		llm.PlainText{Text: "Now there are 12."},
	}}
	sink := &events.CollectingSink{}
	h := newHandler(t, p, engine, store, WithBotName("ModerBot"), WithEventSinks(sink))

	trigger := &platform.Message{ChatID: chatID, MessageID: 7, FromID: 42, ReplyToID: 5, Text: "and now?"}
	res, err := h.Handle(ctx, trigger)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calls)
	require.Len(t, res.Refs, 1)

	require.Len(t, engine.requests, 2)
	first := engine.requests[0].Dialogue
	require.Len(t, first, 6)
	assert.Equal(t, dialogue.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].Text(), "You are ModerBot.")
	assert.Contains(t, first[0].Text(), "setChatTitle")
	assert.Equal(t, "gptm how many members?", first[1].Text())
	require.True(t, first[2].IsFunctionCall())
	assert.Equal(t, "getChatMemberCount", first[2].FunctionCall.Name)
	assert.Equal(t, dialogue.RoleFunction, first[3].Role)
	assert.Equal(t, "11", first[3].Text())
	assert.Equal(t, "There are 11 members.", first[4].Text())
	assert.Equal(t, dialogue.RoleUser, first[5].Role)
	assert.Equal(t, "and now?", first[5].Text())

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, chatID, sent[0].ChatID)
	assert.Equal(t, 7, sent[0].ReplyTo)
	assert.Equal(t, "\u200eNow there are 12.", sent[0].Text)
	require.Len(t, sent[0].Links, 1)
	assert.Equal(t, 0, sent[0].Links[0].Offset)
	assert.Equal(t, res.Refs[0], sent[0].Links[0].URL)

	calls := sink.OfType(events.EventTypeCall)
	require.Len(t, calls, 1)
	assert.Equal(t, 7, calls[0].Metadata().MessageID)
	assert.NotEmpty(t, calls[0].Metadata().RequestID)
	assert.Empty(t, sink.OfType(events.EventTypeError))
}

func TestHandleMemberPromptListsReadOnlyOperations(t *testing.T) {
	engine := &scriptedEngine{turns: []llm.ModelTurn{llm.PlainText{Text: "ok"}}}
	p := newFakePlatform()
	h := newHandler(t, p, engine, records.NewMemoryStore())

	_, err := h.Handle(context.Background(), &platform.Message{ChatID: chatID, MessageID: 3, FromID: 9, Text: "gptm hi"})
	require.NoError(t, err)
	require.Len(t, engine.requests, 1)
	system := engine.requests[0].Dialogue[0].Text()
	assert.Contains(t, system, "getChatMemberCount")
	assert.NotContains(t, system, "setChatTitle")
}

func TestHandleFailureSendsNothing(t *testing.T) {
	p := newFakePlatform()
	sink := &events.CollectingSink{}
	h := newHandler(t, p, &scriptedEngine{}, records.NewMemoryStore(), WithEventSinks(sink))

	_, err := h.Handle(context.Background(), &platform.Message{ChatID: chatID, MessageID: 3, Text: "gptm hi"})
	require.Error(t, err)
	assert.Empty(t, p.Sent())
	assert.Len(t, sink.OfType(events.EventTypeError), 1)
}

func TestHandleTrimsToTokenBudget(t *testing.T) {
	p := newFakePlatform(
		&platform.Message{ChatID: chatID, MessageID: 1, Text: "gptm a rather long first question about the chat"},
		&platform.Message{ChatID: chatID, MessageID: 2, FromSelf: true, ReplyToID: 1, Text: "a rather long first answer"},
	)
	engine := &scriptedEngine{turns: []llm.ModelTurn{llm.PlainText{Text: "ok"}}}
	h := newHandler(t, p, engine, records.NewMemoryStore(), WithTokenBudget(200, runeCounter{}))
	h.prompt, _ = prompt.Parse("sys")

	_, err := h.Handle(context.Background(), &platform.Message{ChatID: chatID, MessageID: 3, ReplyToID: 2, Text: "short"})
	require.NoError(t, err)

	d := engine.requests[0].Dialogue
	require.Len(t, d, 4)

	h = newHandler(t, p, &scriptedEngine{}, records.NewMemoryStore(), WithTokenBudget(40, runeCounter{}))
	h.prompt, _ = prompt.Parse("sys")
	d, err = h.Dialogue(context.Background(), &platform.Message{ChatID: chatID, MessageID: 3, ReplyToID: 2, Text: "short"}, permissions.RoleMember)
	require.NoError(t, err)
	require.Len(t, d, 2)
	assert.Equal(t, "sys", d[0].Text())
	assert.Equal(t, "short", d[1].Text())
}

type channelReceiver struct {
	ch chan *platform.Message
}

func (c channelReceiver) Receive(context.Context) (<-chan *platform.Message, error) {
	return c.ch, nil
}

func TestDispatcherHandlesTriggeredMessages(t *testing.T) {
	p := newFakePlatform()
	engine := llm.EngineFunc(func(_ context.Context, req llm.Request) (llm.ModelTurn, error) {
		last := req.Dialogue[len(req.Dialogue)-1].Text()
		if last == "gptm fail" {
			return nil, errors.New("model unavailable")
		}
		return llm.PlainText{Text: "re: " + last}, nil
	})
	h := newHandler(t, p, engine, records.NewMemoryStore())

	ch := make(chan *platform.Message, 10)
	for i, text := range []string{"gptm one", "ignored", "gptm fail", "gptm two", "gptm three"} {
		ch <- &platform.Message{ChatID: chatID, MessageID: i + 1, Text: text}
	}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, NewDispatcher(channelReceiver{ch: ch}, h, 2).Run(ctx))

	var texts []string
	for _, r := range p.Sent() {
		texts = append(texts, fmt.Sprintf("%d:%s", r.ReplyTo, r.Text))
	}
	assert.ElementsMatch(t, []string{"1:re: gptm one", "4:re: gptm two", "5:re: gptm three"}, texts)
}
