package models

import (
	"strings"
	"time"
)

// Conversation is a named, ordered thread of messages between a user and the tutor. Messages are kept
// in insertion order, which is also the conversation order. An empty Messages slice means the history
// has not been loaded yet.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	// DefaultTitle is the placeholder title of a conversation that has not received a user message yet.
	DefaultTitle = "Nova conversa"
	// OfflineTitle is the title of a conversation synthesized locally when the tutor is unreachable.
	OfflineTitle = "Nova conversa (offline)"

	// OfflineWelcome is the assistant message preloaded into an offline conversation.
	OfflineWelcome = "Olá! Sou Apollo, seu tutor AI. Como posso ajudar você hoje? (Modo offline)"
	// ErrorReply is the assistant message appended when a question could not be answered.
	ErrorReply = "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente."

	titleMaxRunes = 30
)

// DeriveTitle builds a conversation title from the first user message. Titles longer than 30
// characters are cut and suffixed with an ellipsis.
func DeriveTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "..."
}

// HasPlaceholderTitle reports whether the conversation still carries one of the titles given at
// creation, DefaultTitle or OfflineTitle.
func (c Conversation) HasPlaceholderTitle() bool {
	return c.Title == DefaultTitle || c.Title == OfflineTitle
}

// Clone returns a copy of c that shares no message storage with it.
func (c Conversation) Clone() Conversation {
	if c.Messages != nil {
		msgs := make([]Message, len(c.Messages))
		for i, m := range c.Messages {
			msgs[i] = m.Clone()
		}
		c.Messages = msgs
	}
	return c
}
