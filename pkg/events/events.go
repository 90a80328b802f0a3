package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeQuery is published before every language model request.
	EventTypeQuery EventType = "query"
	// EventTypeCall is published once per requested operation, after its
	// record was written.
	EventTypeCall  EventType = "call"
	EventTypeReply EventType = "reply"
	EventTypeError EventType = "error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata identifies the request an event belongs to.
type EventMetadata struct {
	RequestID string `json:"request_id" yaml:"request_id"`
	ChatID    int64  `json:"chat_id" yaml:"chat_id"`
	MessageID int    `json:"message_id" yaml:"message_id"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("request_id", em.RequestID)
	e.Int64("chat_id", em.ChatID)
	e.Int("message_id", em.MessageID)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventQuery struct {
	EventImpl
	// Iteration counts the operations executed so far.
	Iteration  int  `json:"iteration"`
	AllowCalls bool `json:"allow_calls"`
	Turns      int  `json:"turns"`
}

func NewQueryEvent(metadata EventMetadata, iteration int, allowCalls bool, turns int) *EventQuery {
	return &EventQuery{
		EventImpl:  EventImpl{Type_: EventTypeQuery, Metadata_: metadata},
		Iteration:  iteration,
		AllowCalls: allowCalls,
		Turns:      turns,
	}
}

type EventCall struct {
	EventImpl
	Operation  string      `json:"operation"`
	Parameters interface{} `json:"parameters"`
	Outcome    interface{} `json:"outcome"`
	// Executed is false when the call was rejected before reaching the
	// administrative API.
	Executed bool   `json:"executed"`
	Failed   bool   `json:"failed"`
	Ref      string `json:"ref"`
}

func NewCallEvent(metadata EventMetadata, operation string, parameters, outcome interface{}, executed, failed bool, ref string) *EventCall {
	return &EventCall{
		EventImpl:  EventImpl{Type_: EventTypeCall, Metadata_: metadata},
		Operation:  operation,
		Parameters: parameters,
		Outcome:    outcome,
		Executed:   executed,
		Failed:     failed,
		Ref:        ref,
	}
}

type EventReply struct {
	EventImpl
	Text  string   `json:"text"`
	Links []string `json:"links"`
}

func NewReplyEvent(metadata EventMetadata, text string, links []string) *EventReply {
	return &EventReply{
		EventImpl: EventImpl{Type_: EventTypeReply, Metadata_: metadata},
		Text:      text,
		Links:     links,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

func decodeAs[T any](b []byte, setPayload func(*T)) (*T, error) {
	var ret T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	setPayload(&ret)
	return &ret, nil
}

// NewEventFromJson decodes an event serialized by a sink back into its typed form.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	switch hdr.Type {
	case EventTypeQuery:
		return decodeAs(b, func(e *EventQuery) { e.payload = b })
	case EventTypeCall:
		return decodeAs(b, func(e *EventCall) { e.payload = b })
	case EventTypeReply:
		return decodeAs(b, func(e *EventReply) { e.payload = b })
	case EventTypeError:
		return decodeAs(b, func(e *EventError) { e.payload = b })
	}
	return nil, fmt.Errorf("unknown event type: %q", hdr.Type)
}
