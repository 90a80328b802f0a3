package dialogue

import (
	"fmt"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// FunctionCall is the operation request carried by an assistant turn.
type FunctionCall struct {
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// Turn is one role-tagged entry of the conversation log sent to the language model.
//
// Content is nil for assistant turns that only carry a FunctionCall. Name is only
// set on function turns and names the operation that produced Content.
type Turn struct {
	Role         Role          `json:"role" yaml:"role"`
	Content      *string       `json:"content" yaml:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty" yaml:"function_call,omitempty"`
	Name         string        `json:"name,omitempty" yaml:"name,omitempty"`
}

func textTurn(role Role, text string) *Turn {
	return &Turn{Role: role, Content: &text}
}

func NewSystemTurn(text string) *Turn {
	return textTurn(RoleSystem, text)
}

func NewUserTurn(text string) *Turn {
	return textTurn(RoleUser, text)
}

func NewAssistantTurn(text string) *Turn {
	return textTurn(RoleAssistant, text)
}

// NewFunctionCallTurn creates the assistant turn that requests operation name.
func NewFunctionCallTurn(name string, arguments string) *Turn {
	return &Turn{
		Role:         RoleAssistant,
		FunctionCall: &FunctionCall{Name: name, Arguments: arguments},
	}
}

// NewFunctionTurn creates the turn carrying the outcome of operation name.
func NewFunctionTurn(name string, content string) *Turn {
	return &Turn{Role: RoleFunction, Name: name, Content: &content}
}

// Text returns the content of the turn, or the empty string when it has none.
func (t *Turn) Text() string {
	if t == nil || t.Content == nil {
		return ""
	}
	return *t.Content
}

func (t *Turn) IsFunctionCall() bool {
	return t != nil && t.Role == RoleAssistant && t.FunctionCall != nil
}

func (t *Turn) String() string {
	switch {
	case t.IsFunctionCall():
		return fmt.Sprintf("%s: %s(%s)", t.Role, t.FunctionCall.Name, t.FunctionCall.Arguments)
	case t.Role == RoleFunction:
		return fmt.Sprintf("%s[%s]: %s", t.Role, t.Name, t.Text())
	default:
		return fmt.Sprintf("%s: %s", t.Role, t.Text())
	}
}

// Dialogue is the chronological, oldest-first conversation log.
type Dialogue []*Turn

// Append adds turns at the end of the log.
func (d *Dialogue) Append(turns ...*Turn) {
	*d = append(*d, turns...)
}

func (d Dialogue) Clone() Dialogue {
	return clone.Clone(d).(Dialogue)
}

// Validate checks that every function turn directly follows the assistant turn
// that requested it.
func (d Dialogue) Validate() error {
	for i, t := range d {
		if t == nil {
			return errors.Errorf("turn %d is nil", i)
		}
		if t.Role != RoleFunction {
			continue
		}
		if i == 0 {
			return errors.Errorf("function turn %d (%s) has no preceding call", i, t.Name)
		}
		prev := d[i-1]
		if !prev.IsFunctionCall() || prev.FunctionCall.Name != t.Name {
			return errors.Errorf("function turn %d (%s) is not preceded by a matching function call", i, t.Name)
		}
	}
	return nil
}
