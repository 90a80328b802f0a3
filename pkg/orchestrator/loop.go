// Package orchestrator runs the request loop: query the language model, execute
// at most one requested operation per answer, record it, and repeat until the
// model answers in plain text or the call budget is spent.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/events"
	"github.com/go-go-golems/moderator/pkg/executor"
	"github.com/go-go-golems/moderator/pkg/llm"
	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultMaxCalls = 3

// ThreadContext is the state of one request. It is owned by a single Run call.
type ThreadContext struct {
	Source   operations.Source
	Role     permissions.Role
	Dialogue dialogue.Dialogue
	// Calls counts the operation requests handled so far.
	Calls int
	Reply ReplyBuilder
}

func NewThreadContext(source operations.Source, role permissions.Role, d dialogue.Dialogue) *ThreadContext {
	return &ThreadContext{
		Source:   source,
		Role:     role,
		Dialogue: d,
	}
}

type Result struct {
	Text     string
	Refs     []string
	Calls    int
	Dialogue dialogue.Dialogue
}

type Loop struct {
	engine    llm.Engine
	executor  executor.Runner
	store     records.Store
	catalogue *operations.Catalogue
	maxCalls  int
}

type Option func(*Loop)

// WithMaxCalls sets how many operation requests one request may handle.
func WithMaxCalls(n int) Option {
	return func(l *Loop) {
		l.maxCalls = n
	}
}

func New(engine llm.Engine, exec executor.Runner, store records.Store, catalogue *operations.Catalogue, options ...Option) *Loop {
	l := &Loop{
		engine:    engine,
		executor:  exec,
		store:     store,
		catalogue: catalogue,
		maxCalls:  DefaultMaxCalls,
	}
	for _, o := range options {
		o(l)
	}
	if l.maxCalls < 0 {
		l.maxCalls = 0
	}
	return l
}

// Run drives tc to a final answer. Model and store failures abort the request;
// everything that goes wrong with an operation becomes that call's outcome.
func (l *Loop) Run(ctx context.Context, tc *ThreadContext) (*Result, error) {
	logger := log.Ctx(ctx)
	metadata := events.MetadataFromContext(ctx)

	for {
		allowCalls := tc.Calls < l.maxCalls && l.catalogue.Len() > 0
		events.PublishEventToContext(ctx, events.NewQueryEvent(metadata, tc.Calls, allowCalls, len(tc.Dialogue)))

		turn, err := l.engine.Query(ctx, llm.Request{
			Dialogue:   tc.Dialogue,
			Operations: l.catalogue.List(),
			AllowCalls: allowCalls,
		})
		if err != nil {
			return nil, errors.Wrap(err, "could not query language model")
		}

		switch t := turn.(type) {
		case llm.FunctionRequest:
			if !allowCalls {
				logger.Warn().Str("operation", t.Name).Msg("model requested an operation after calls were disabled, ignoring it")
				return l.finish(ctx, tc), nil
			}
			if err := l.handleCall(ctx, tc, t); err != nil {
				return nil, err
			}

		case llm.PlainText:
			tc.Reply.AppendText(t.Text)
			tc.Dialogue.Append(t.Turn())
			return l.finish(ctx, tc), nil

		default:
			return nil, errors.Errorf("unexpected model turn %T", turn)
		}
	}
}

func (l *Loop) finish(ctx context.Context, tc *ThreadContext) *Result {
	res := &Result{
		Text:     tc.Reply.Text(),
		Refs:     tc.Reply.Refs(),
		Calls:    tc.Calls,
		Dialogue: tc.Dialogue,
	}
	events.PublishEventToContext(ctx, events.NewReplyEvent(events.MetadataFromContext(ctx), res.Text, res.Refs))
	return res
}

func (l *Loop) handleCall(ctx context.Context, tc *ThreadContext, req llm.FunctionRequest) error {
	logger := log.Ctx(ctx).With().Str("operation", req.Name).Logger()

	var problems []string
	if !l.catalogue.Has(req.Name) {
		problems = append(problems, fmt.Sprintf("Called function %s doesn't exist.", req.Name))
	}
	params, ok := parseArguments(req.Arguments)
	if !ok {
		problems = append(problems, "Invalid JSON format in arguments.")
	}

	var outcome interface{}
	executed, failed := false, false
	if len(problems) == 0 {
		executed = true
		res, err := l.executor.Execute(ctx, executor.Request{
			Role:       tc.Role,
			Operation:  req.Name,
			Parameters: params.(map[string]interface{}),
			Source:     tc.Source,
		})
		if err != nil {
			failed = true
			outcome = err.Error()
		} else {
			outcome = res
		}
	} else {
		failed = true
		outcome = strings.Join(problems, " ")
	}
	if failed {
		logger.Info().Interface("outcome", outcome).Msg("operation failed")
	}

	ref, err := l.store.Write(ctx, records.Record{
		Operation:  req.Name,
		Parameters: params,
		Outcome:    outcome,
	})
	if err != nil {
		return errors.Wrap(err, "could not write call record")
	}

	tc.Reply.AppendLink(ref)
	tc.Dialogue.Append(
		req.Turn(),
		dialogue.NewFunctionTurn(req.Name, records.FormatValue(outcome)),
	)
	tc.Calls++

	events.PublishEventToContext(ctx, events.NewCallEvent(
		events.MetadataFromContext(ctx), req.Name, params, outcome, executed, failed, ref))
	return nil
}

// parseArguments decodes the model's argument text into a JSON object. Empty
// arguments mean no parameters. Anything else is returned as raw text.
func parseArguments(arguments string) (interface{}, bool) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]interface{}{}, true
	}
	var v interface{}
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return arguments, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return arguments, false
	}
	return m, true
}
