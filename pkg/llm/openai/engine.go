// Package openai queries OpenAI-compatible chat completion APIs with function
// calling.
package openai

import (
	"context"
	"strings"

	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/llm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-3.5-turbo"

type Settings struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	// MaxTokens bounds the length of one answer. 0 leaves it to the API.
	MaxTokens int
}

// MakeClient creates a go-openai client from settings.
func MakeClient(s Settings) (*go_openai.Client, error) {
	if s.APIKey == "" {
		return nil, errors.New("no openai api key")
	}
	config := go_openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		config.BaseURL = strings.TrimRight(s.BaseURL, "/")
	}
	return go_openai.NewClientWithConfig(config), nil
}

type Engine struct {
	client   *go_openai.Client
	settings Settings
}

var _ llm.Engine = (*Engine)(nil)

func NewEngine(s Settings) (*Engine, error) {
	client, err := MakeClient(s)
	if err != nil {
		return nil, err
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	return &Engine{client: client, settings: s}, nil
}

func (e *Engine) Query(ctx context.Context, req llm.Request) (llm.ModelTurn, error) {
	r, err := e.makeRequest(req)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Debug().
		Str("model", r.Model).
		Int("messages", len(r.Messages)).
		Int("functions", len(r.Functions)).
		Msg("querying language model")

	resp, err := e.client.CreateChatCompletion(ctx, *r)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	log.Ctx(ctx).Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("language model answered")

	return decodeChoice(resp.Choices[0]), nil
}

func (e *Engine) makeRequest(req llm.Request) (*go_openai.ChatCompletionRequest, error) {
	r := &go_openai.ChatCompletionRequest{
		Model:       e.settings.Model,
		Temperature: e.settings.Temperature,
		MaxTokens:   e.settings.MaxTokens,
		Messages:    make([]go_openai.ChatCompletionMessage, 0, len(req.Dialogue)),
	}
	for _, t := range req.Dialogue {
		r.Messages = append(r.Messages, turnToMessage(t))
	}

	// without functions the API refuses function_call, so "none" is expressed
	// by leaving both out
	if req.AllowCalls && len(req.Operations) > 0 {
		for _, op := range req.Operations {
			params, err := op.SchemaJSON()
			if err != nil {
				return nil, errors.Wrapf(err, "could not render schema of %s", op.Name)
			}
			r.Functions = append(r.Functions, go_openai.FunctionDefinition{
				Name:        op.Name,
				Description: op.Description,
				Parameters:  params,
			})
		}
		r.FunctionCall = "auto"
	}
	return r, nil
}

func turnToMessage(t *dialogue.Turn) go_openai.ChatCompletionMessage {
	m := go_openai.ChatCompletionMessage{
		Role:    string(t.Role),
		Content: t.Text(),
		Name:    t.Name,
	}
	if t.FunctionCall != nil {
		m.FunctionCall = &go_openai.FunctionCall{
			Name:      t.FunctionCall.Name,
			Arguments: t.FunctionCall.Arguments,
		}
	}
	return m
}

func decodeChoice(c go_openai.ChatCompletionChoice) llm.ModelTurn {
	if c.FinishReason == go_openai.FinishReasonFunctionCall && c.Message.FunctionCall != nil {
		return llm.FunctionRequest{
			Name:      c.Message.FunctionCall.Name,
			Arguments: c.Message.FunctionCall.Arguments,
			Text:      c.Message.Content,
		}
	}
	return llm.PlainText{Text: c.Message.Content}
}
