package backend

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/pkg/streaming"
)

// OpenAIBackend dispatches turns against an OpenAI-compatible chat endpoint,
// such as ollama's /v1 API. Reasoning capture is not supported by this wire
// format and the flag is ignored.
type OpenAIBackend struct {
	client *openai.Client
}

var _ Backend = (*OpenAIBackend)(nil)

func NewOpenAIBackend(baseURL string, apiKey string) *OpenAIBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
	}
}

func (b *OpenAIBackend) Complete(ctx context.Context, req *ChatRequest, onUpdate streaming.UpdateFunc) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, entry := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    entry.Role,
			Content: entry.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	defer stream.Close()

	completion := ""
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Debug().Err(err).Int("length", len(completion)).Msg("openai stream interrupted")
			return nil, &streaming.AbortedError{Partial: completion, Err: err}
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		completion += delta
		if err := onUpdate(delta, completion); err != nil {
			return nil, err
		}
	}

	return &Completion{Text: completion, Model: req.Model}, nil
}

func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &RequestFailedError{
			StatusCode: apiErr.HTTPStatusCode,
			Detail:     apiErr.Message,
		}
	}
	return errors.Wrap(err, "chat request failed")
}
