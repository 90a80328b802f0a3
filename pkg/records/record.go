// Package records persists the inputs and outcome of every executed operation
// in an external store, so that a reply chain can be replayed into a dialogue
// without any local database.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Separator joins the three fields of a stored record.
const Separator = "\n\n"

var ErrMalformedRecord = errors.New("malformed call record")

// Record is the durable trace of one operation call. Parameters and Outcome are
// either structured values (maps, slices, numbers...) or plain text.
type Record struct {
	Operation  string `json:"operation" yaml:"operation"`
	Parameters any    `json:"parameters" yaml:"parameters"`
	Outcome    any    `json:"outcome" yaml:"outcome"`
}

// Store writes records once and reads them back by the reference it handed out.
type Store interface {
	Write(ctx context.Context, r Record) (string, error)
	Read(ctx context.Context, ref string) (Record, error)
	// Owns reports whether ref points into this store.
	Owns(ref string) bool
}

// FormatValue renders a value the way it is shown to the language model:
// text as is, everything else as compact JSON.
func FormatValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case []byte:
		return string(tv)
	case error:
		return tv.Error()
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// encodeField renders one record field. Text that would be read back as
// something else (valid JSON, or containing the separator) is stored as a
// JSON string so that it round-trips as text.
func encodeField(v any) string {
	s, ok := v.(string)
	if !ok {
		return FormatValue(v)
	}
	if strings.Contains(s, Separator) || json.Valid([]byte(s)) {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return s
}

func decodeField(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// encodeOperation leaves plain names alone and quotes names that would not
// survive the split and trim on read.
func encodeOperation(op string) string {
	if op == "" || strings.Contains(op, Separator) || strings.TrimSpace(op) != op || strings.HasPrefix(op, `"`) {
		b, _ := json.Marshal(op)
		return string(b)
	}
	return op
}

func decodeOperation(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		var op string
		if err := json.Unmarshal([]byte(s), &op); err == nil {
			return op
		}
	}
	return s
}

// Encode renders the record into the three-field text layout:
// operation, parameters and outcome joined by a blank line.
func Encode(r Record) string {
	return encodeOperation(r.Operation) + Separator + encodeField(r.Parameters) + Separator + encodeField(r.Outcome)
}

// Decode reverses Encode. Each of the two trailing fields is decoded as JSON
// when possible and kept as text otherwise, which also reads records written
// without the JSON-string escaping.
func Decode(content string) (Record, error) {
	parts := strings.SplitN(content, Separator, 3)
	if len(parts) != 3 {
		return Record{}, errors.Wrapf(ErrMalformedRecord, "expected 3 fields, got %d", len(parts))
	}
	op := decodeOperation(parts[0])
	if op == "" {
		return Record{}, errors.Wrap(ErrMalformedRecord, "empty operation")
	}
	return Record{
		Operation:  op,
		Parameters: decodeField(parts[1]),
		Outcome:    decodeField(parts[2]),
	}, nil
}
