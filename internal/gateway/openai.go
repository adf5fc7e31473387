package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds the settings for the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIGateway implements Gateway against an OpenAI-compatible API.
type OpenAIGateway struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIGateway creates a gateway backed by the OpenAI chat completion API.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("completion backend API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &OpenAIGateway{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

// Complete performs a synchronous completion
func (g *OpenAIGateway) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: g.convertMessages(messages),
	})
	if err != nil {
		return "", &BackendError{Backend: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Backend: "openai", Err: errors.New("empty response")}
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteStream performs a streaming completion
func (g *OpenAIGateway) CompleteStream(ctx context.Context, messages []Message) (<-chan Fragment, error) {
	fragments := make(chan Fragment)

	go func() {
		defer close(fragments)

		stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    g.model,
			Messages: g.convertMessages(messages),
			Stream:   true,
		})
		if err != nil {
			select {
			case fragments <- Fragment{Err: &BackendError{Backend: "openai", Err: err}}:
			case <-ctx.Done():
			}
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case fragments <- Fragment{Err: &BackendError{Backend: "openai", Err: err}}:
				case <-ctx.Done():
				}
				return
			}

			if len(response.Choices) > 0 && response.Choices[0].Delta.Content != "" {
				select {
				case fragments <- Fragment{Text: response.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return fragments, nil
}

// convertMessages maps engine roles onto the wire roles the API expects.
// Stored turns use "model" for assistant output.
func (g *OpenAIGateway) convertMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		role := msg.Role
		if role == "model" {
			role = openai.ChatMessageRoleAssistant
		}
		converted[i] = openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		}
	}
	return converted
}
