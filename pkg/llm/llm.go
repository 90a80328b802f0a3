// Package llm is the boundary to the language model: a request carries the
// dialogue and the offered operations, a response is decoded once into a
// ModelTurn.
package llm

import (
	"context"

	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/operations"
)

type Request struct {
	Dialogue dialogue.Dialogue
	// Operations offered to the model. Ignored when AllowCalls is false.
	Operations []*operations.Operation
	AllowCalls bool
}

// ModelTurn is either PlainText or FunctionRequest.
type ModelTurn interface {
	// Turn returns the assistant turn to append to the dialogue.
	Turn() *dialogue.Turn
	isModelTurn()
}

type PlainText struct {
	Text string
}

func (p PlainText) Turn() *dialogue.Turn {
	return dialogue.NewAssistantTurn(p.Text)
}

func (PlainText) isModelTurn() {}

// FunctionRequest asks for one operation. Arguments is the raw argument text
// as produced by the model, which is not guaranteed to be valid JSON. Text is
// whatever content the model sent along with the call, usually empty.
type FunctionRequest struct {
	Name      string
	Arguments string
	Text      string
}

func (f FunctionRequest) Turn() *dialogue.Turn {
	t := dialogue.NewFunctionCallTurn(f.Name, f.Arguments)
	if f.Text != "" {
		text := f.Text
		t.Content = &text
	}
	return t
}

func (FunctionRequest) isModelTurn() {}

type Engine interface {
	Query(ctx context.Context, req Request) (ModelTurn, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, req Request) (ModelTurn, error)

func (f EngineFunc) Query(ctx context.Context, req Request) (ModelTurn, error) {
	return f(ctx, req)
}
