package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama is an LLM served by an Ollama instance, used to run the tutor fully locally.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance for the server at host.
func NewOllama(host, model, systemPrompt string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host: %w", err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}, nil
}

// Chat implements LLM. The response is requested without streaming, the typing reveal is done by the
// session anyway.
func (o Ollama) Chat(ctx context.Context, messages []models.Message) (string, error) {
	msgs := withSystemPrompt(o.systemPrompt, messages)
	reqMsgs := make([]api.Message, len(msgs))
	for i, msg := range msgs {
		reqMsgs[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	f := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: reqMsgs,
		Stream:   &f,
	}

	var sb strings.Builder
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return sb.String(), nil
}

// Model returns the name of the model answering the questions.
func (o Ollama) Model() string {
	return o.model
}
