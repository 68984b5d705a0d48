package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"
	"time"

	tutorui "github.com/MegaGrindStone/tutor-web-ui"
	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	"github.com/MegaGrindStone/tutor-web-ui/internal/session"
	"github.com/tmaxmax/go-sse"
)

// Session is the chat session the handlers drive. It is implemented by session.Controller.
type Session interface {
	Store() *session.Store

	CreateConversation(ctx context.Context) string
	SelectConversation(ctx context.Context, id string) error
	NewChat()
	SendMessage(ctx context.Context, text string) error
	CompleteTypingReveal()
	DeleteConversation(ctx context.Context, id string) error
	RenameConversation(id, title string) error
}

// Main renders the chat and keeps connected browsers up to date. It subscribes to the session store
// and pushes every visible change through server-sent events, so the handlers themselves never wait
// for the tutor beyond the request that asked the question.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	session Session
	logger  *slog.Logger

	published   *publishedState
	unsubscribe func()
}

type chat struct {
	ID     string
	Title  string
	Active bool
}

type message struct {
	ID        string
	Role      string
	HTML      template.HTML
	Timestamp time.Time
	Subject   string
	Source    string
}

type homePageData struct {
	Chats         []chat
	CurrentChatID string
	Messages      []message
	Status        string
	ShowTyping    bool
	Revealed      string
}

// publishedState remembers the last payload of each event type, so unchanged views are not resent.
type publishedState struct {
	mu       sync.Mutex
	chats    string
	messages string
	status   string
	typing   string
}

// SSE event types for real-time updates.
const (
	chatsSSEType    = "chats"
	messagesSSEType = "messages"
	statusSSEType   = "status"
	typingSSEType   = "typing"
)

const errLoggerKey = "err"

// NewMain creates a new Main for the given session. It parses the embedded templates and starts
// listening to the session store.
func NewMain(sess Session, logger *slog.Logger) (Main, error) {
	tmpl, err := template.ParseFS(tutorui.TemplateFS, "templates/*.html")
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	m := Main{
		sseSrv:    &sse.Server{},
		templates: tmpl,
		session:   sess,
		logger:    logger.With(slog.String("module", "handlers")),
		published: &publishedState{},
	}
	m.unsubscribe = sess.Store().Subscribe(m.publish)

	return m, nil
}

// Shutdown completes any answer still being revealed, so it is not lost, then tells every client to
// close and waits up to 5 seconds for the connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.session.CompleteTypingReveal()
	m.unsubscribe()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events need a data field to be dispatched by the browser
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m Main) pageData(st session.State) (homePageData, error) {
	data := homePageData{
		CurrentChatID: st.ActiveID,
		Status:        string(st.Status()),
		Chats:         make([]chat, len(st.Conversations)),
	}
	for i, c := range st.Conversations {
		data.Chats[i] = chat{
			ID:     c.ID,
			Title:  c.Title,
			Active: c.ID == st.ActiveID,
		}
	}

	active, ok := st.Active()
	if !ok {
		return data, nil
	}
	for _, msg := range active.Messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		rendered, err := renderMessage(msg)
		if err != nil {
			return homePageData{}, err
		}
		data.Messages = append(data.Messages, rendered)
	}
	data.ShowTyping = st.Typing && st.PendingID == st.ActiveID
	data.Revealed = st.Revealed

	return data, nil
}

func renderMessage(msg models.Message) (message, error) {
	out := message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Timestamp: msg.Timestamp,
	}
	if msg.Metadata != nil {
		out.Subject = msg.Metadata.Subject
		out.Source = msg.Metadata.Source
	}

	if msg.Role != models.RoleAssistant {
		escaped := template.HTMLEscapeString(msg.Content)
		out.HTML = template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
		return out, nil
	}

	html, err := models.RenderHTML(msg.Content)
	if err != nil {
		return message{}, err
	}
	out.HTML = template.HTML(html)
	return out, nil
}

func (m Main) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}

// publish is the store subscriber. It renders the views affected by the new state and sends those
// that changed since the previous state.
func (m Main) publish(st session.State) {
	data, err := m.pageData(st)
	if err != nil {
		m.logger.Error("Failed to prepare page data", slog.String(errLoggerKey, err.Error()))
		return
	}

	chats, err := m.render("chat_list", data.Chats)
	if err != nil {
		m.logger.Error("Failed to render chats", slog.String(errLoggerKey, err.Error()))
		return
	}
	status, err := m.render("status", data)
	if err != nil {
		m.logger.Error("Failed to render status", slog.String(errLoggerKey, err.Error()))
		return
	}

	// The message list is rendered with an empty typing placeholder, the revealed text travels in its
	// own event so a reveal tick does not resend the whole list.
	typing := ""
	if data.ShowTyping {
		typing = data.Revealed
	}
	data.Revealed = ""
	messages, err := m.render("messages", data)
	if err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		return
	}

	p := m.published
	p.mu.Lock()
	defer p.mu.Unlock()

	if chats != p.chats {
		p.chats = chats
		m.send(chatsSSEType, chats)
	}
	if messages != p.messages {
		p.messages = messages
		p.typing = ""
		m.send(messagesSSEType, messages)
	}
	if typing != p.typing {
		p.typing = typing
		m.send(typingSSEType, typing)
	}
	if status != p.status {
		p.status = status
		m.send(statusSSEType, status)
	}
}

func (m Main) send(eventType, data string) {
	msg := sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(&msg); err != nil {
		m.logger.Debug("Failed to publish event",
			slog.String("type", eventType),
			slog.String(errLoggerKey, err.Error()))
	}
}
