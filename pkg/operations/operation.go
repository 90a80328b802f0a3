// Package operations describes the administrative actions the language model
// may request. Each operation is declared as a Go parameter struct; its JSON
// schema, its name and the set of fields the model is allowed to supply are
// all derived from that struct.
package operations

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Source carries the values of the triggering message that contextual
// parameters are taken from.
type Source struct {
	ChatID    int64
	MessageID int
	UserID    int64
}

// ContextField is a parameter filled in from the triggering message. The
// model never supplies it.
type ContextField struct {
	Name  string
	Value func(Source) any
}

var ChatIDField = ContextField{
	Name:  "chat_id",
	Value: func(s Source) any { return s.ChatID },
}

type Operation struct {
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description" yaml:"description"`
	Parameters  *jsonschema.Schema `json:"parameters" yaml:"-"`
	// ReadOnly operations do not change the chat.
	ReadOnly bool           `json:"read_only" yaml:"read_only"`
	Context  []ContextField `json:"-" yaml:"-"`

	fields []string
	schema *gojsonschema.Schema
}

type Option func(*Operation)

func WithName(name string) Option {
	return func(o *Operation) { o.Name = name }
}

func WithReadOnly() Option {
	return func(o *Operation) { o.ReadOnly = true }
}

// WithContext replaces the contextual fields of the operation. By default an
// operation is scoped to the current chat through chat_id.
func WithContext(fields ...ContextField) Option {
	return func(o *Operation) { o.Context = fields }
}

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
}

// New builds an operation from a parameter struct value. The operation name
// is the lower camel case form of the struct type name.
func New(params interface{}, description string, options ...Option) (*Operation, error) {
	t := reflect.TypeOf(params)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Errorf("operation parameters must be a struct, got %T", params)
	}

	schema := newReflector().ReflectFromType(t)
	schema.Version = ""

	o := &Operation{
		Name:        strcase.ToLowerCamel(t.Name()),
		Description: description,
		Parameters:  schema,
		Context:     []ContextField{ChatIDField},
	}
	for _, opt := range options {
		opt(o)
	}
	if o.Name == "" {
		return nil, errors.Errorf("operation for %s has no name", t)
	}

	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			o.fields = append(o.fields, pair.Key)
		}
	}
	for _, c := range o.Context {
		if o.Allows(c.Name) {
			return nil, errors.Errorf("operation %s: contextual field %s is also a model parameter", o.Name, c.Name)
		}
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal schema of %s", o.Name)
	}
	o.schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "could not compile schema of %s", o.Name)
	}

	return o, nil
}

// MustNew is New for the built-in catalogue.
func MustNew(params interface{}, description string, options ...Option) *Operation {
	o, err := New(params, description, options...)
	if err != nil {
		panic(err)
	}
	return o
}

// Fields returns the parameter names the model may supply, in declaration order.
func (o *Operation) Fields() []string {
	return append([]string(nil), o.fields...)
}

func (o *Operation) Allows(field string) bool {
	for _, f := range o.fields {
		if f == field {
			return true
		}
	}
	return false
}

// CheckFields rejects any parameter that is not part of the operation's
// parameter struct, contextual fields included.
func (o *Operation) CheckFields(params map[string]interface{}) error {
	var unknown []string
	for k := range params {
		if !o.Allows(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return errors.Errorf("Unexpected parameters for %s: %s.", o.Name, strings.Join(unknown, ", "))
}

// Validate checks params against the operation's JSON schema.
func (o *Operation) Validate(params map[string]interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	result, err := o.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return errors.Wrapf(err, "could not validate parameters of %s", o.Name)
	}
	if result.Valid() {
		return nil
	}
	descriptions := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	return errors.Errorf("Invalid parameters for %s: %s.", o.Name, strings.Join(descriptions, "; "))
}

// ContextValues returns the contextual parameters for the given source.
func (o *Operation) ContextValues(src Source) map[string]interface{} {
	ret := make(map[string]interface{}, len(o.Context))
	for _, c := range o.Context {
		ret[c.Name] = c.Value(src)
	}
	return ret
}

// SchemaJSON returns the parameter schema as a generic JSON value, the form
// language model clients expect.
func (o *Operation) SchemaJSON() (map[string]interface{}, error) {
	b, err := json.Marshal(o.Parameters)
	if err != nil {
		return nil, err
	}
	var ret map[string]interface{}
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}
