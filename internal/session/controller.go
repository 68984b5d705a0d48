package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	"github.com/google/uuid"
)

// Tutor is the remote collaborator that allocates conversations and answers questions.
type Tutor interface {
	CreateConversation(ctx context.Context) (models.Conversation, error)
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	Ask(ctx context.Context, conversationID, question string) (models.Answer, error)
}

// Deleter is implemented by tutors that can also forget a conversation.
type Deleter interface {
	DeleteConversation(ctx context.Context, conversationID string) error
}

var (
	// ErrBusy is returned by SendMessage while a previous question is still being answered or revealed.
	ErrBusy = errors.New("a question is already being answered")
	// ErrNotFound is returned when the conversation id is unknown to the store.
	ErrNotFound = errors.New("conversation not found")
	// ErrEmptyTitle is returned when renaming a conversation to a blank title.
	ErrEmptyTitle = errors.New("title is required")
)

const (
	errLoggerKey = "err"

	offlineIDPrefix = "offline-"
)

// Controller sequences questions through the tutor and reveals the answers, keeping every change in
// the Store so the render layer only has to subscribe to it.
type Controller struct {
	tutor    Tutor
	store    *Store
	revealer Revealer
	logger   *slog.Logger

	now   func() time.Time
	newID func() string

	busy  atomic.Bool
	cycle atomic.Uint64
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the clock used for message and conversation timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides how local message and offline conversation ids are generated.
func WithIDGenerator(newID func() string) ControllerOption {
	return func(c *Controller) { c.newID = newID }
}

// NewController creates a Controller that writes into store. A nil revealer reveals answers instantly.
func NewController(tutor Tutor, store *Store, revealer Revealer, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if revealer == nil {
		revealer = NewTypewriter(0, 1)
	}
	c := &Controller{
		tutor:    tutor,
		store:    store,
		revealer: revealer,
		logger:   logger.With(slog.String("module", "session")),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the store the controller writes into.
func (c *Controller) Store() *Store {
	return c.store
}

// Load merges the tutor's conversation list into the store, most recently updated first. Conversations already in
// the store keep their loaded messages.
func (c *Controller) Load(ctx context.Context) error {
	remote, err := c.tutor.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	slices.SortStableFunc(remote, func(a, b models.Conversation) int {
		return cmp.Compare(lastActivity(b).UnixNano(), lastActivity(a).UnixNano())
	})

	c.store.Update(func(st *State) {
		remoteIDs := make(map[string]struct{}, len(remote))
		for i := range remote {
			remoteIDs[remote[i].ID] = struct{}{}
			if remote[i].Title == "" {
				remote[i].Title = models.DefaultTitle
			}
			if existing, ok := st.Conversation(remote[i].ID); ok {
				remote[i].Messages = existing.Messages
			}
		}

		var merged []models.Conversation
		for _, conv := range st.Conversations {
			if _, ok := remoteIDs[conv.ID]; !ok {
				merged = append(merged, conv)
			}
		}
		st.Conversations = append(merged, remote...)
	})

	c.logger.Info("Loaded conversations", slog.Int("count", len(remote)))
	return nil
}

// CreateConversation allocates a conversation through the tutor, makes it active and returns its id.
// When the tutor cannot be reached, an offline conversation with a welcome message is created instead,
// so this never fails.
func (c *Controller) CreateConversation(ctx context.Context) string {
	now := c.now()

	conv, err := c.tutor.CreateConversation(ctx)
	if err != nil {
		c.logger.Warn("Failed to create conversation, falling back to offline",
			slog.String(errLoggerKey, err.Error()))
		conv = models.Conversation{
			ID:    offlineIDPrefix + c.newID(),
			Title: models.OfflineTitle,
			Messages: []models.Message{
				{
					ID:        c.newID(),
					Role:      models.RoleAssistant,
					Content:   models.OfflineWelcome,
					Timestamp: now,
				},
			},
		}
	}
	if conv.Title == "" {
		conv.Title = models.DefaultTitle
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	c.store.Update(func(st *State) {
		st.Conversations = slices.Insert(st.Conversations, 0, conv)
		st.ActiveID = conv.ID
	})

	return conv.ID
}

// lastActivity is the update time of a conversation, or its creation time when the tutor sent none.
func lastActivity(conv models.Conversation) time.Time {
	if conv.UpdatedAt.IsZero() {
		return conv.CreatedAt
	}
	return conv.UpdatedAt
}

// NewChat leaves the active conversation. The next SendMessage creates a new one.
func (c *Controller) NewChat() {
	c.store.Update(func(st *State) {
		st.ActiveID = ""
	})
}

// SelectConversation makes the conversation active and fetches its history if none is loaded.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	var (
		found bool
		empty bool
	)
	c.store.Update(func(st *State) {
		conv, ok := st.Conversation(id)
		if !ok {
			return
		}
		found = true
		empty = len(conv.Messages) == 0
		st.ActiveID = id
	})
	if !found {
		return ErrNotFound
	}
	if !empty {
		return nil
	}

	msgs, err := c.tutor.Messages(ctx, id)
	if err != nil {
		c.logger.Error("Failed to fetch conversation history",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	c.store.Update(func(st *State) {
		idx := st.index(id)
		// A message may have been sent while the history was loading; keep the newer view.
		if idx == -1 || len(st.Conversations[idx].Messages) > 0 {
			return
		}
		st.Conversations[idx].Messages = msgs
	})
	return nil
}

// SendMessage asks the tutor a question in the active conversation, creating one first in new-chat
// mode. The user message is appended immediately. On success the answer is staged and revealed; on
// failure an apology is appended instead. Failures of the tutor are contained in the conversation and
// never returned. Blank input is ignored and overlapping calls get ErrBusy.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	cycle := c.cycle.Add(1)

	snap := c.store.Snapshot()
	id := snap.ActiveID
	if _, ok := snap.Conversation(id); !ok {
		id = c.CreateConversation(ctx)
	}

	now := c.now()
	c.store.Update(func(st *State) {
		idx := st.index(id)
		if idx != -1 && st.Conversations[idx].HasPlaceholderTitle() {
			st.Conversations[idx].Title = models.DeriveTitle(text)
		}
		st.appendMessage(id, models.Message{
			ID:        c.newID(),
			Role:      models.RoleUser,
			Content:   text,
			Timestamp: now,
		})
		st.clearReveal()
		st.Thinking = true
		st.PendingID = id
	})

	ans, err := c.tutor.Ask(ctx, id, text)
	if err == nil && strings.TrimSpace(ans.Text) == "" {
		err = errors.New("tutor returned an empty answer")
	}
	if err != nil {
		c.logger.Error("Failed to ask question",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		c.store.Update(func(st *State) {
			st.Thinking = false
			st.clearReveal()
			st.PendingID = ""
			st.appendMessage(id, models.Message{
				ID:        c.newID(),
				Role:      models.RoleAssistant,
				Content:   models.ErrorReply,
				Timestamp: c.now(),
			})
		})
		c.busy.Store(false)
		return nil
	}

	c.store.Update(func(st *State) {
		st.Thinking = false
		st.Typing = true
		st.TypingMessage = ans.Text
		st.PendingMetadata = ans.Metadata()
		st.Revealed = ""
	})

	c.revealer.Reveal(ans.Text, c.progress(cycle), func() { c.finishReveal(cycle) })
	return nil
}

// CompleteTypingReveal finishes the reveal in progress at once, appending the staged answer as an
// assistant message. It does nothing when no answer is being revealed.
func (c *Controller) CompleteTypingReveal() {
	c.revealer.FastForward()
	c.finishReveal(c.cycle.Load())
}

func (c *Controller) progress(cycle uint64) func(string) {
	return func(revealed string) {
		c.store.Update(func(st *State) {
			if !st.Typing || c.cycle.Load() != cycle {
				return
			}
			st.Revealed = revealed
		})
	}
}

func (c *Controller) finishReveal(cycle uint64) {
	if c.cycle.Load() != cycle {
		return
	}

	completed := false
	c.store.Update(func(st *State) {
		if !st.Typing {
			return
		}
		completed = true
		st.appendMessage(st.PendingID, models.Message{
			ID:        c.newID(),
			Role:      models.RoleAssistant,
			Content:   st.TypingMessage,
			Timestamp: c.now(),
			Metadata:  st.PendingMetadata,
		})
		st.clearReveal()
		st.PendingID = ""
	})
	if completed {
		c.busy.Store(false)
	}
}

// DeleteConversation removes the conversation. When it was active, the most recent remaining
// conversation becomes active, or none if the list is empty.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if _, ok := c.store.Snapshot().Conversation(id); !ok {
		return ErrNotFound
	}

	if d, ok := c.tutor.(Deleter); ok && !strings.HasPrefix(id, offlineIDPrefix) {
		if err := d.DeleteConversation(ctx, id); err != nil {
			c.logger.Error("Failed to delete remote conversation",
				slog.String("conversationID", id),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	c.store.Update(func(st *State) {
		idx := st.index(id)
		if idx == -1 {
			return
		}
		st.Conversations = slices.Delete(st.Conversations, idx, idx+1)
		if st.ActiveID != id {
			return
		}
		st.ActiveID = ""
		if len(st.Conversations) > 0 {
			st.ActiveID = st.Conversations[0].ID
		}
	})
	return nil
}

// RenameConversation sets a new title for the conversation.
func (c *Controller) RenameConversation(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	found := false
	c.store.Update(func(st *State) {
		idx := st.index(id)
		if idx == -1 {
			return
		}
		found = true
		st.Conversations[idx].Title = title
		st.Conversations[idx].UpdatedAt = c.now()
	})
	if !found {
		return ErrNotFound
	}
	return nil
}
