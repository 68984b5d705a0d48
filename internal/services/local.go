package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	"github.com/google/uuid"
)

// History persists the conversations answered by a LocalTutor.
type History interface {
	Chats(ctx context.Context) ([]models.Conversation, error)
	AddChat(ctx context.Context, chat models.Conversation) error
	UpdateChat(ctx context.Context, chat models.Conversation) error
	DeleteChat(ctx context.Context, chatID string) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) error
}

// LocalTutor answers questions with a language model instead of the platform's tutor, keeping the
// conversations in a local History. It is meant for development and for running without the
// platform.
type LocalTutor struct {
	llm     LLM
	history History
	source  string

	now    func() time.Time
	logger *slog.Logger
}

// NewLocalTutor creates a LocalTutor. source is attached to every answer, usually the model name.
func NewLocalTutor(llm LLM, history History, source string, logger *slog.Logger) LocalTutor {
	return LocalTutor{
		llm:     llm,
		history: history,
		source:  source,
		now:     time.Now,
		logger:  logger.With(slog.String("module", "localtutor")),
	}
}

// CreateConversation implements session.Tutor.
func (l LocalTutor) CreateConversation(ctx context.Context) (models.Conversation, error) {
	now := l.now()
	conv := models.Conversation{
		ID:        uuid.New().String(),
		Title:     models.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.history.AddChat(ctx, conv); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to add chat: %w", err)
	}
	return conv, nil
}

// Conversations implements session.Tutor.
func (l LocalTutor) Conversations(ctx context.Context) ([]models.Conversation, error) {
	return l.history.Chats(ctx)
}

// Messages implements session.Tutor.
func (l LocalTutor) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return l.history.Messages(ctx, conversationID)
}

// Ask implements session.Tutor. The exchange is only recorded once the model answered, so a failed
// question leaves no trace in the history.
func (l LocalTutor) Ask(ctx context.Context, conversationID, question string) (models.Answer, error) {
	history, err := l.history.Messages(ctx, conversationID)
	if err != nil {
		return models.Answer{}, fmt.Errorf("failed to get messages: %w", err)
	}

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   question,
		Timestamp: l.now(),
	}

	text, err := l.llm.Chat(ctx, append(history, userMsg))
	if err != nil {
		return models.Answer{}, fmt.Errorf("failed to chat: %w", err)
	}
	if text == "" {
		return models.Answer{}, ErrEmptyAnswer
	}

	aiMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   text,
		Timestamp: l.now(),
		Metadata:  &models.Metadata{Source: l.source},
	}
	for _, msg := range []models.Message{userMsg, aiMsg} {
		if err := l.history.AddMessage(ctx, conversationID, msg); err != nil {
			return models.Answer{}, fmt.Errorf("failed to add message: %w", err)
		}
	}

	if len(history) == 0 {
		l.titleChat(ctx, conversationID, question)
	}

	return models.Answer{Text: text, Source: l.source}, nil
}

// DeleteConversation implements session.Deleter.
func (l LocalTutor) DeleteConversation(ctx context.Context, conversationID string) error {
	return l.history.DeleteChat(ctx, conversationID)
}

func (l LocalTutor) titleChat(ctx context.Context, conversationID, question string) {
	chats, err := l.history.Chats(ctx)
	if err != nil {
		l.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		return
	}
	for _, chat := range chats {
		if chat.ID != conversationID || !chat.HasPlaceholderTitle() {
			continue
		}
		chat.Title = models.DeriveTitle(question)
		chat.UpdatedAt = l.now()
		if err := l.history.UpdateChat(ctx, chat); err != nil {
			l.logger.Error("Failed to update chat title",
				slog.String("chatID", conversationID),
				slog.String(errLoggerKey, err.Error()))
		}
		return
	}
}
