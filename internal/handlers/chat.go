package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/tutor-web-ui/internal/session"
)

// HandleHome renders the full chat page. A chat_id query parameter selects that conversation, loading
// its history when needed, and new=1 switches to new-chat mode.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("new") == "1" {
		m.session.NewChat()
	} else if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		if err := m.session.SelectConversation(r.Context(), chatID); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				http.Error(w, "Chat not found", http.StatusNotFound)
				return
			}
			// The page is still usable without the history, the failure is only logged.
			m.logger.Error("Failed to select chat",
				slog.String("chatID", chatID),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	data, err := m.pageData(m.session.Store().Snapshot())
	if err != nil {
		m.logger.Error("Failed to prepare page data", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChats asks the tutor the question in the "message" form field within the active conversation,
// creating one when in new-chat mode. It returns once the answer arrived or failed; the answer itself
// reaches the browser through server-sent events.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	// Leaving the page must not abort the question.
	ctx := context.WithoutCancel(r.Context())
	if err := m.session.SendMessage(ctx, msg); err != nil {
		if errors.Is(err, session.ErrBusy) {
			http.Error(w, "A question is already being answered", http.StatusConflict)
			return
		}
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleNewChat creates a conversation and redirects to it.
func (m Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := m.session.CreateConversation(r.Context())
	http.Redirect(w, r, "/?chat_id="+url.QueryEscape(id), http.StatusSeeOther)
}

// HandleDeleteChat deletes the conversation in the "chat_id" form field and redirects home.
func (m Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if err := m.session.DeleteConversation(r.Context(), chatID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "Chat not found", http.StatusNotFound)
			return
		}
		m.logger.Error("Failed to delete chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleRenameChat sets the title of the conversation in the "chat_id" form field.
func (m Main) HandleRenameChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := m.session.RenameConversation(r.FormValue("chat_id"), r.FormValue("title"))
	switch {
	case errors.Is(err, session.ErrEmptyTitle):
		http.Error(w, "Title is required", http.StatusBadRequest)
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "Chat not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleFlush completes the answer being revealed. Browsers call it when the page is left.
func (m Main) HandleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.session.CompleteTypingReveal()
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE streams state changes to the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
