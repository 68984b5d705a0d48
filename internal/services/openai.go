package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI is an LLM served by the OpenAI API or any API compatible with it, such as OpenRouter.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client
}

// NewOpenAI creates a new OpenAI instance. An empty baseURL targets the OpenAI API itself.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClientWithConfig(cfg),
	}
}

// Chat implements LLM.
func (o OpenAI) Chat(ctx context.Context, messages []models.Message) (string, error) {
	msgs := withSystemPrompt(o.systemPrompt, messages)
	reqMsgs := make([]goopenai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		reqMsgs[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: reqMsgs,
	})
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// Model returns the name of the model answering the questions.
func (o OpenAI) Model() string {
	return o.model
}
