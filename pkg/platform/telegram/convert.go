package telegram

import (
	"github.com/go-go-golems/moderator/pkg/platform"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func convertEntities(text string, entities []tgbotapi.MessageEntity) []platform.Entity {
	if len(entities) == 0 {
		return nil
	}
	runes := []rune(text)
	ret := make([]platform.Entity, 0, len(entities))
	for _, e := range entities {
		start := platform.UTF16ToRune(runes, e.Offset)
		end := platform.UTF16ToRune(runes, e.Offset+e.Length)
		ret = append(ret, platform.Entity{
			Type:   e.Type,
			Offset: start,
			Length: end - start,
			URL:    e.URL,
		})
	}
	return ret
}

func convertMessage(m *tgbotapi.Message, selfID int64) *platform.Message {
	ret := &platform.Message{
		MessageID: m.MessageID,
		Text:      m.Text,
		Entities:  convertEntities(m.Text, m.Entities),
	}
	if m.Text == "" && m.Caption != "" {
		ret.Text = m.Caption
		ret.Entities = convertEntities(m.Caption, m.CaptionEntities)
	}
	if m.Chat != nil {
		ret.ChatID = m.Chat.ID
	}
	if m.From != nil {
		ret.FromID = m.From.ID
		ret.FromSelf = m.From.ID == selfID
	}
	if m.ReplyToMessage != nil {
		ret.ReplyToID = m.ReplyToMessage.MessageID
	}
	return ret
}

func linkEntities(text string, links []platform.Link) []tgbotapi.MessageEntity {
	if len(links) == 0 {
		return nil
	}
	runes := []rune(text)
	ret := make([]tgbotapi.MessageEntity, 0, len(links))
	for _, l := range links {
		end := l.Offset + len([]rune(l.Text))
		start16 := platform.RuneToUTF16(runes, l.Offset)
		ret = append(ret, tgbotapi.MessageEntity{
			Type:   platform.EntityTextLink,
			Offset: start16,
			Length: platform.RuneToUTF16(runes, end) - start16,
			URL:    l.URL,
		})
	}
	return ret
}
