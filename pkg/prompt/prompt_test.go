package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrompt(t *testing.T) {
	tmpl, err := Parse("")
	require.NoError(t, err)

	s, err := tmpl.Render(Data{
		BotName:    "ModerBot",
		Role:       "member",
		Operations: []string{"getChatMemberCount", "setChatTitle"},
		Now:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, s, "You are ModerBot")
	assert.Contains(t, s, "Available functions: getChatMemberCount, setChatTitle.")
	assert.Contains(t, s, "role in this chat is member")
	assert.Contains(t, s, "Today is 2024-03-01.")

	s, err = tmpl.Render(Data{})
	require.NoError(t, err)
	assert.Contains(t, s, "You are a moderation bot")
	assert.NotContains(t, s, "Available functions")
}

func TestCustomPrompt(t *testing.T) {
	tmpl, err := Parse(`{{ .Role | upper }} in {{ .ChatID }}`)
	require.NoError(t, err)
	s, err := tmpl.Render(Data{Role: "creator", ChatID: -5})
	require.NoError(t, err)
	assert.Equal(t, "CREATOR in -5", s)

	_, err = Parse(`{{ .Role `)
	assert.Error(t, err)
}
