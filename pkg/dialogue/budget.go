package dialogue

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// perTurnOverhead approximates the framing tokens the chat format adds to every turn.
const perTurnOverhead = 4

type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with the BPE codec of a model, falling back
// to cl100k_base for models the tokenizer does not know.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		log.Debug().Str("model", model).Msg("unknown model for tokenizer, using cl100k_base")
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, errors.Wrap(err, "could not load tokenizer")
		}
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		// rough estimate, never zero for non-empty text
		return len(text)/4 + 1
	}
	return len(ids)
}

func (t *Turn) tokens(counter TokenCounter) int {
	n := perTurnOverhead + counter.Count(t.Text())
	if t.FunctionCall != nil {
		n += counter.Count(t.FunctionCall.Name) + counter.Count(t.FunctionCall.Arguments)
	}
	if t.Name != "" {
		n += counter.Count(t.Name)
	}
	return n
}

// Tokens estimates the prompt size of the whole dialogue.
func (d Dialogue) Tokens(counter TokenCounter) int {
	total := 0
	for _, t := range d {
		total += t.tokens(counter)
	}
	return total
}

// Trim drops the oldest history turns until the dialogue fits into maxTokens.
//
// A leading system turn and the final turn are always kept. A function call and
// the function turn answering it are dropped together so the result still
// validates. maxTokens <= 0 disables trimming.
func Trim(d Dialogue, maxTokens int, counter TokenCounter) Dialogue {
	if maxTokens <= 0 || counter == nil || len(d) < 3 {
		return d
	}

	var head Dialogue
	body := d[:len(d)-1]
	tail := d[len(d)-1]
	if body[0].Role == RoleSystem {
		head = Dialogue{body[0]}
		body = body[1:]
	}

	// group the history into units that must be kept or dropped as a whole
	var units []Dialogue
	for i := 0; i < len(body); i++ {
		if body[i].IsFunctionCall() && i+1 < len(body) && body[i+1].Role == RoleFunction {
			units = append(units, body[i:i+2])
			i++
			continue
		}
		units = append(units, body[i:i+1])
	}

	total := d.Tokens(counter)
	dropped := 0
	for len(units) > 0 && total > maxTokens {
		total -= units[0].Tokens(counter)
		dropped += len(units[0])
		units = units[1:]
	}
	if dropped == 0 {
		return d
	}
	log.Debug().Int("dropped_turns", dropped).Int("tokens", total).Int("max_tokens", maxTokens).
		Msg("trimmed dialogue history")

	ret := make(Dialogue, 0, len(d)-dropped)
	ret = append(ret, head...)
	for _, u := range units {
		ret = append(ret, u...)
	}
	ret = append(ret, tail)
	return ret
}
