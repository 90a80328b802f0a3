// Package executor performs one administrative operation on behalf of a chat
// member, after checking the member's permissions and the model-supplied
// parameters.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://api.telegram.org"

// Runner is what the orchestration loop needs from an executor.
type Runner interface {
	Execute(ctx context.Context, req Request) (interface{}, error)
}

type Request struct {
	Role       permissions.Role
	Operation  string
	Parameters map[string]interface{}
	Source     operations.Source
}

type Executor struct {
	catalogue   *operations.Catalogue
	permissions *permissions.Table
	client      *http.Client
	baseURL     string
	token       string
}

var _ Runner = (*Executor)(nil)

type Option func(*Executor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

func WithBaseURL(u string) Option {
	return func(e *Executor) { e.baseURL = strings.TrimRight(u, "/") }
}

func New(token string, catalogue *operations.Catalogue, table *permissions.Table, options ...Option) *Executor {
	e := &Executor{
		catalogue:   catalogue,
		permissions: table,
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     DefaultBaseURL,
		token:       token,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Execute checks and performs one operation. Every failure, including a
// panic in the transport, is returned as an error; nothing is retried.
func (e *Executor) Execute(ctx context.Context, req Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Errorf("Operation %s failed: %v", req.Operation, r)
		}
	}()

	logger := log.Ctx(ctx).With().
		Str("operation", req.Operation).
		Str("role", string(req.Role)).
		Logger()

	if !e.permissions.Permitted(req.Role, req.Operation) {
		logger.Info().Msg("operation not permitted")
		return nil, errors.WithStack(permissions.ErrNotPermitted)
	}

	op, err := e.catalogue.Lookup(req.Operation)
	if err != nil {
		return nil, err
	}
	if err := op.CheckFields(req.Parameters); err != nil {
		return nil, err
	}
	if err := op.Validate(req.Parameters); err != nil {
		return nil, err
	}

	// contextual fields go into a copy, after the model input was checked
	body := map[string]interface{}{}
	if req.Parameters != nil {
		body = clone.Clone(req.Parameters).(map[string]interface{})
	}
	for k, v := range op.ContextValues(req.Source) {
		body[k] = v
	}

	logger.Debug().Interface("parameters", req.Parameters).Msg("executing operation")
	return e.post(ctx, op.Name, body)
}

type apiError struct {
	Description string `json:"description"`
}

func (e *Executor) post(ctx context.Context, method string, body map[string]interface{}) (interface{}, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "could not encode parameters of %s", method)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", e.baseURL, e.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "could not create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		// the request URL carries the bot token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, errors.Errorf("Request error occurred: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Errorf("Request error occurred: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Description != "" {
			return nil, errors.Errorf("HTTP error occurred: %d (%s).", resp.StatusCode, ae.Description)
		}
		return nil, errors.Errorf("HTTP error occurred: %d.", resp.StatusCode)
	}

	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Errorf("JSON decode error occurred: %v", err)
	}
	return out, nil
}
