package services

import (
	"context"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
)

// LLM is a language model that answers the last user message given the conversation so far.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) (string, error)
}

func withSystemPrompt(systemPrompt string, messages []models.Message) []models.Message {
	if systemPrompt == "" {
		return messages
	}
	out := make([]models.Message, 0, len(messages)+1)
	out = append(out, models.Message{Role: models.RoleSystem, Content: systemPrompt})
	return append(out, messages...)
}
