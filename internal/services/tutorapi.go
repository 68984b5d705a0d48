package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
)

// TutorAPI is a client of the platform's remote tutor. It implements session.Tutor and session.Deleter
// over the REST API, authenticating every request with a bearer token.
type TutorAPI struct {
	baseURL string
	tokens  TokenSource

	client *http.Client

	logger *slog.Logger
}

// APIError is returned when the Tutor API answers with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

var (
	// ErrMalformedResponse is returned when a response body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrEmptyAnswer is returned when the tutor answered a question with no text.
	ErrEmptyAnswer = errors.New("empty answer")
)

type apiConversation struct {
	ID        apiID   `json:"id"`
	Name      string  `json:"name"`
	CreatedAt apiTime `json:"created_at"`
	UpdatedAt apiTime `json:"updated_at"`
}

type apiMessage struct {
	ID        apiID   `json:"id"`
	Sender    string  `json:"sender"`
	Message   string  `json:"message"`
	Source    string  `json:"source"`
	CreatedAt apiTime `json:"created_at"`
}

type apiCreateRequest struct {
	Name string `json:"name"`
}

type apiAskRequest struct {
	ConversationID apiID  `json:"conversation_id"`
	Question       string `json:"question"`
}

type apiAskResponse struct {
	Subject string `json:"subject"`
	Answer  string `json:"answer"`
	Source  string `json:"source"`
}

type apiErrorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// apiID accepts both numeric and string identifiers, and is sent back as a number when it is one.
type apiID string

// apiTime accepts RFC 3339 timestamps as well as timestamps without a zone, which are taken as UTC.
type apiTime time.Time

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

const maxErrorBody = 4 << 10

// NewTutorAPI creates a TutorAPI for the API rooted at baseURL.
func NewTutorAPI(baseURL string, tokens TokenSource, timeout time.Duration, logger *slog.Logger) TutorAPI {
	return TutorAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("module", "tutorapi")),
	}
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tutor api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("tutor api returned status %d: %s", e.StatusCode, e.Message)
}

// CreateConversation allocates a new conversation on the platform.
func (t TutorAPI) CreateConversation(ctx context.Context) (models.Conversation, error) {
	var res apiConversation
	if err := t.do(ctx, http.MethodPost, "/tutor/conversations", apiCreateRequest{Name: models.DefaultTitle}, &res); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	if res.ID == "" {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w: missing id", ErrMalformedResponse)
	}
	return res.conversation(), nil
}

// Conversations lists the conversations of the authenticated user.
func (t TutorAPI) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var res []apiConversation
	if err := t.do(ctx, http.MethodGet, "/tutor/conversations", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := make([]models.Conversation, len(res))
	for i, c := range res {
		convs[i] = c.conversation()
	}
	return convs, nil
}

// Messages fetches the history of a conversation in conversation order.
func (t TutorAPI) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var res []apiMessage
	path := "/tutor/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := t.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	msgs := make([]models.Message, len(res))
	for i, m := range res {
		msgs[i] = m.message()
	}
	return msgs, nil
}

// Ask submits a question to the tutor and returns its answer.
func (t TutorAPI) Ask(ctx context.Context, conversationID, question string) (models.Answer, error) {
	var res apiAskResponse
	req := apiAskRequest{
		ConversationID: apiID(conversationID),
		Question:       question,
	}
	if err := t.do(ctx, http.MethodPost, "/tutor/ask", req, &res); err != nil {
		return models.Answer{}, fmt.Errorf("failed to ask question: %w", err)
	}
	if strings.TrimSpace(res.Answer) == "" {
		return models.Answer{}, fmt.Errorf("failed to ask question: %w", ErrEmptyAnswer)
	}

	return models.Answer{
		Subject: res.Subject,
		Text:    res.Answer,
		Source:  res.Source,
	}, nil
}

// DeleteConversation deletes a conversation on the platform.
func (t TutorAPI) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/tutor/conversations/" + url.PathEscape(conversationID)
	if err := t.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (t TutorAPI) do(ctx context.Context, method, path string, body, out any) error {
	token, err := t.tokens.Token()
	if err != nil {
		return fmt.Errorf("error getting token: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var eb apiErrorBody
		if err := json.Unmarshal(raw, &eb); err == nil {
			apiErr.Message = firstNonEmpty(eb.Detail, eb.Message, eb.Error)
		}
		t.logger.Debug("Tutor API error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(raw)))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func (c apiConversation) conversation() models.Conversation {
	return models.Conversation{
		ID:        string(c.ID),
		Title:     c.Name,
		CreatedAt: time.Time(c.CreatedAt),
		UpdatedAt: time.Time(c.UpdatedAt),
	}
}

func (m apiMessage) message() models.Message {
	msg := models.Message{
		ID:        string(m.ID),
		Role:      senderRole(m.Sender),
		Content:   m.Message,
		Timestamp: time.Time(m.CreatedAt),
	}
	if m.Source != "" {
		msg.Metadata = &models.Metadata{Source: m.Source}
	}
	return msg
}

func senderRole(sender string) models.Role {
	switch strings.ToLower(strings.TrimSpace(sender)) {
	case "tutor", "assistant", "ai", "bot":
		return models.RoleAssistant
	case "system":
		return models.RoleSystem
	default:
		return models.RoleUser
	}
}

func (id *apiID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = apiID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", string(data))
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("invalid id %s", string(data))
	}
	*id = apiID(n.String())
	return nil
}

func (id apiID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(id))
}

func (at *apiTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		*at = apiTime{}
		return nil
	}
	for _, layout := range apiTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*at = apiTime(t)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
