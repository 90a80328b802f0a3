// Package prompt renders the system turn that opens every dialogue.
package prompt

import (
	"bytes"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

const DefaultSystemPrompt = `You are {{ .BotName | default "a moderation bot" }}, an assistant that helps moderate a Telegram group chat.
You can call functions of the Telegram Bot API on behalf of the user who wrote the last message.
{{- if .Operations }}
Available functions: {{ .Operations | join ", " }}.
{{- end }}
The user's role in this chat is {{ .Role | default "unknown" }}. Some functions are only available to some roles;
if a call fails, explain the error to the user instead of retrying it.
Answer briefly, in the language of the user. Today is {{ .Now.Format "2006-01-02" }}.`

// Data is what the system prompt template can refer to.
type Data struct {
	BotName    string
	ChatID     int64
	Role       string
	Operations []string
	Now        time.Time
}

type Template struct {
	tmpl *template.Template
}

func Parse(text string) (*Template, error) {
	if text == "" {
		text = DefaultSystemPrompt
	}
	t, err := template.New("system-prompt").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse system prompt")
	}
	return &Template{tmpl: t}, nil
}

func (t *Template) Render(data Data) (string, error) {
	if data.Now.IsZero() {
		data.Now = time.Now()
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "could not render system prompt")
	}
	return buf.String(), nil
}
