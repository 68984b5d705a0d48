package session_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	"github.com/MegaGrindStone/tutor-web-ui/internal/session"
)

type mockTutor struct {
	mu sync.Mutex

	createErr error
	listErr   error
	msgsErr   error
	askErr    error
	deleteErr error

	answer        models.Answer
	conversations []models.Conversation
	messages      map[string][]models.Message

	created   int
	asked     []string
	fetched   []string
	deleted   []string
	askCalled chan struct{}
	askBlock  chan struct{}
}

type manualRevealer struct {
	mu         sync.Mutex
	text       string
	onProgress func(string)
	onDone     func()
}

var testEpoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestController(tutor session.Tutor, revealer session.Revealer) *session.Controller {
	var (
		mu  sync.Mutex
		seq int
		now = testEpoch
	)
	return session.NewController(tutor, session.NewStore(), revealer,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		session.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		}),
		session.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
}

func (m *mockTutor) CreateConversation(_ context.Context) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return models.Conversation{}, m.createErr
	}
	m.created++
	return models.Conversation{
		ID:    fmt.Sprintf("remote-%d", m.created),
		Title: models.DefaultTitle,
	}, nil
}

func (m *mockTutor) Conversations(_ context.Context) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]models.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out, nil
}

func (m *mockTutor) Messages(_ context.Context, id string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, id)
	if m.msgsErr != nil {
		return nil, m.msgsErr
	}
	return m.messages[id], nil
}

func (m *mockTutor) Ask(_ context.Context, _, question string) (models.Answer, error) {
	m.mu.Lock()
	m.asked = append(m.asked, question)
	called, block := m.askCalled, m.askBlock
	ans, err := m.answer, m.askErr
	m.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return ans, err
}

func (m *mockTutor) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return m.deleteErr
}

func (r *manualRevealer) Reveal(text string, onProgress func(string), onDone func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = text
	r.onProgress = onProgress
	r.onDone = onDone
}

func (r *manualRevealer) progress(revealed string) {
	r.mu.Lock()
	fn := r.onProgress
	r.mu.Unlock()
	fn(revealed)
}

func (r *manualRevealer) FastForward() {
	r.mu.Lock()
	done, progress, text := r.onDone, r.onProgress, r.text
	r.onDone = nil
	r.mu.Unlock()

	if done == nil {
		return
	}
	progress(text)
	done()
}

func (r *manualRevealer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDone = nil
}
