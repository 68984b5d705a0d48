package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/handlers"
	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	"github.com/MegaGrindStone/tutor-web-ui/internal/session"
)

type mockTutor struct {
	mu       sync.Mutex
	answer   models.Answer
	askErr   error
	created  int
	messages map[string][]models.Message
	convs    []models.Conversation
}

func (m *mockTutor) CreateConversation(_ context.Context) (models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	return models.Conversation{ID: fmt.Sprintf("c%d", m.created), Title: models.DefaultTitle}, nil
}

func (m *mockTutor) Conversations(_ context.Context) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs, nil
}

func (m *mockTutor) Messages(_ context.Context, id string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[id], nil
}

func (m *mockTutor) Ask(_ context.Context, _, _ string) (models.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answer, m.askErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMain(t *testing.T, tutor session.Tutor, revealer session.Revealer) (handlers.Main, *session.Controller) {
	t.Helper()
	ctrl := session.NewController(tutor, session.NewStore(), revealer, discardLogger())
	main, err := handlers.NewMain(ctrl, discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		if err := main.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return main, ctrl
}

func postForm(handler http.HandlerFunc, target string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleHome(t *testing.T) {
	tutor := &mockTutor{
		convs: []models.Conversation{{ID: "1", Title: "Revisão de frações"}},
		messages: map[string][]models.Message{
			"1": {
				{ID: "m1", Role: models.RoleUser, Content: "O que é <b>metade</b>?"},
				{
					ID:       "m2",
					Role:     models.RoleAssistant,
					Content:  "Metade é **1/2**.",
					Metadata: &models.Metadata{Subject: "Matemática", Source: "apostila.pdf"},
				},
			},
		},
	}
	main, ctrl := newTestMain(t, tutor, nil)
	if err := ctrl.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Home page without chat",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"Revisão de frações"},
		},
		{
			name:       "Home page with chat",
			url:        "/?chat_id=1",
			wantStatus: http.StatusOK,
			wantBody: []string{
				"O que é &lt;b&gt;metade&lt;/b&gt;?",
				"<strong>1/2</strong>",
				"Matemática",
				"apostila.pdf",
				`class="active"`,
			},
		},
		{
			name:       "Unknown chat",
			url:        "/?chat_id=nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body does not contain %q", want)
				}
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		message    string
		wantStatus int
	}{
		{name: "Invalid method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
		{name: "Empty message", method: http.MethodPost, message: "   ", wantStatus: http.StatusBadRequest},
		{name: "New chat", method: http.MethodPost, message: "Olá", wantStatus: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, ctrl := newTestMain(t, &mockTutor{answer: models.Answer{Text: "Olá! Em que posso ajudar?"}}, nil)

			form := strings.NewReader(url.Values{"message": {tt.message}}.Encode())
			req := httptest.NewRequest(tt.method, "/chats", form)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusAccepted {
				return
			}

			conv, ok := ctrl.Store().Snapshot().Active()
			if !ok {
				t.Fatal("no active conversation")
			}
			if len(conv.Messages) != 2 || conv.Messages[1].Content != "Olá! Em que posso ajudar?" {
				t.Errorf("messages = %+v", conv.Messages)
			}
		})
	}
}

func TestHandleChatsBusy(t *testing.T) {
	main, ctrl := newTestMain(t,
		&mockTutor{answer: models.Answer{Text: "uma resposta bem longa"}},
		session.NewTypewriter(time.Hour, 1))

	first := postForm(main.HandleChats, "/chats", url.Values{"message": {"primeira"}})
	if first.Code != http.StatusAccepted {
		t.Fatalf("first HandleChats() status = %v, want %v", first.Code, http.StatusAccepted)
	}
	if st := ctrl.Store().Snapshot(); st.Status() != session.StatusTyping {
		t.Fatalf("Status() = %v, want typing", st.Status())
	}

	second := postForm(main.HandleChats, "/chats", url.Values{"message": {"segunda"}})
	if second.Code != http.StatusConflict {
		t.Errorf("second HandleChats() status = %v, want %v", second.Code, http.StatusConflict)
	}

	flush := postForm(main.HandleFlush, "/chats/flush", nil)
	if flush.Code != http.StatusNoContent {
		t.Errorf("HandleFlush() status = %v, want %v", flush.Code, http.StatusNoContent)
	}
	conv, _ := ctrl.Store().Snapshot().Active()
	if n := len(conv.Messages); n != 2 {
		t.Errorf("messages after flush = %d, want 2", n)
	}
}

func TestHandleChatsTutorFailure(t *testing.T) {
	main, ctrl := newTestMain(t, &mockTutor{askErr: errors.New("503")}, nil)

	w := postForm(main.HandleChats, "/chats", url.Values{"message": {"pergunta"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("HandleChats() status = %v, want %v", w.Code, http.StatusAccepted)
	}

	conv, _ := ctrl.Store().Snapshot().Active()
	if len(conv.Messages) != 2 || conv.Messages[1].Content != models.ErrorReply {
		t.Errorf("messages = %+v, want error reply", conv.Messages)
	}
}

func TestHandleNewDeleteRename(t *testing.T) {
	main, ctrl := newTestMain(t, &mockTutor{}, nil)

	w := postForm(main.HandleNewChat, "/chats/new", nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/?chat_id=c1" {
		t.Fatalf("HandleNewChat() = %v %q", w.Code, w.Header().Get("Location"))
	}

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		values     url.Values
		wantStatus int
	}{
		{name: "Rename blank", handler: main.HandleRenameChat, values: url.Values{"chat_id": {"c1"}, "title": {" "}}, wantStatus: http.StatusBadRequest},
		{name: "Rename unknown", handler: main.HandleRenameChat, values: url.Values{"chat_id": {"x"}, "title": {"t"}}, wantStatus: http.StatusNotFound},
		{name: "Rename", handler: main.HandleRenameChat, values: url.Values{"chat_id": {"c1"}, "title": {"Biologia"}}, wantStatus: http.StatusNoContent},
		{name: "Delete unknown", handler: main.HandleDeleteChat, values: url.Values{"chat_id": {"x"}}, wantStatus: http.StatusNotFound},
		{name: "Delete", handler: main.HandleDeleteChat, values: url.Values{"chat_id": {"c1"}}, wantStatus: http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(tt.handler, "/", tt.values)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}

	if n := len(ctrl.Store().Snapshot().Conversations); n != 0 {
		t.Errorf("conversations = %d, want 0", n)
	}
}
