package operations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinNames(t *testing.T) {
	c := Builtin()
	assert.Equal(t, []string{
		"getChatMemberCount",
		"getChatAdministrators",
		"setChatDescription",
		"setChatTitle",
		"pinChatMessage",
		"unpinAllChatMessages",
	}, c.Names())
	assert.Equal(t, []string{"getChatMemberCount", "getChatAdministrators"}, c.ReadOnly())
}

func TestFieldsFollowParameterStruct(t *testing.T) {
	c := Builtin()

	pin, err := c.Lookup("pinChatMessage")
	require.NoError(t, err)
	assert.Equal(t, []string{"message_id", "disable_notification"}, pin.Fields())
	assert.False(t, pin.Allows("chat_id"))

	count, err := c.Lookup("getChatMemberCount")
	require.NoError(t, err)
	assert.Empty(t, count.Fields())
}

func TestLookupUnknown(t *testing.T) {
	_, err := Builtin().Lookup("banChatMember")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.Contains(t, err.Error(), "Called function banChatMember doesn't exist.")
}

func TestCheckFieldsRejectsContextualAndUnknown(t *testing.T) {
	op, err := Builtin().Lookup("setChatTitle")
	require.NoError(t, err)

	assert.NoError(t, op.CheckFields(map[string]interface{}{"title": "x"}))

	err = op.CheckFields(map[string]interface{}{"title": "x", "chat_id": 1, "extra": true})
	require.Error(t, err)
	assert.Equal(t, "Unexpected parameters for setChatTitle: chat_id, extra.", err.Error())
}

func TestValidate(t *testing.T) {
	c := Builtin()

	title, err := c.Lookup("setChatTitle")
	require.NoError(t, err)
	assert.NoError(t, title.Validate(map[string]interface{}{"title": "Moderators"}))
	assert.Error(t, title.Validate(map[string]interface{}{"title": ""}))
	assert.Error(t, title.Validate(map[string]interface{}{}))
	assert.Error(t, title.Validate(map[string]interface{}{"title": 3}))

	pin, err := c.Lookup("pinChatMessage")
	require.NoError(t, err)
	assert.NoError(t, pin.Validate(map[string]interface{}{"message_id": float64(12)}))
	assert.Error(t, pin.Validate(map[string]interface{}{"message_id": "twelve"}))

	count, err := c.Lookup("getChatMemberCount")
	require.NoError(t, err)
	assert.NoError(t, count.Validate(nil))
}

func TestContextValues(t *testing.T) {
	op, err := Builtin().Lookup("unpinAllChatMessages")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"chat_id": int64(-100123)},
		op.ContextValues(Source{ChatID: -100123, MessageID: 5}))
}

func TestSchemaJSON(t *testing.T) {
	op, err := Builtin().Lookup("setChatDescription")
	require.NoError(t, err)
	s, err := op.SchemaJSON()
	require.NoError(t, err)
	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")
	props, ok := s["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "description")
}

type BanChatMember struct {
	ChatID int64 `json:"chat_id"`
}

func TestNewRejectsContextualParameter(t *testing.T) {
	_, err := New(BanChatMember{}, "ban")
	assert.Error(t, err)

	_, err = New("not a struct", "nope")
	assert.Error(t, err)
}

func TestSubset(t *testing.T) {
	c := Builtin()
	sub, err := c.Subset([]string{"setChatTitle", "getChatMemberCount"})
	require.NoError(t, err)
	assert.Equal(t, []string{"getChatMemberCount", "setChatTitle"}, sub.Names())
	assert.False(t, sub.Has("pinChatMessage"))

	all, err := c.Subset(nil)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), all.Len())

	_, err = c.Subset([]string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownOperation)

	_, err = NewCatalogue(c.List()[0], c.List()[0])
	assert.Error(t, err)
}
