package operations

// Parameter structs of the built-in operations. The struct name is the Bot API
// method name; chat_id is always taken from the current chat.

type GetChatMemberCount struct{}

type GetChatAdministrators struct{}

type SetChatDescription struct {
	Description string `json:"description" jsonschema:"maxLength=255" jsonschema_description:"New chat description, 0-255 characters"`
}

type SetChatTitle struct {
	Title string `json:"title" jsonschema:"minLength=1,maxLength=128" jsonschema_description:"New chat title, 1-128 characters"`
}

type PinChatMessage struct {
	MessageID           int  `json:"message_id" jsonschema_description:"Identifier of the message to pin"`
	DisableNotification bool `json:"disable_notification,omitempty" jsonschema_description:"Pin silently, without notifying chat members"`
}

type UnpinAllChatMessages struct{}

// Builtin returns the catalogue of every operation the bot knows.
func Builtin() *Catalogue {
	c, err := NewCatalogue(
		MustNew(GetChatMemberCount{}, "Get the number of members in the chat.", WithReadOnly()),
		MustNew(GetChatAdministrators{}, "Get a list of administrators in the chat.", WithReadOnly()),
		MustNew(SetChatDescription{}, "Change the description of the chat."),
		MustNew(SetChatTitle{}, "Change the title of the chat."),
		MustNew(PinChatMessage{}, "Pin a message in the chat."),
		MustNew(UnpinAllChatMessages{}, "Clear the list of pinned messages in the chat."),
	)
	if err != nil {
		panic(err)
	}
	return c
}
