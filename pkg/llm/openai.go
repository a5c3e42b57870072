package llm

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// DefaultModel is used when the config leaves Model empty.
const DefaultModel = "gpt-4o-mini"

// Config carries the connection settings for an OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient implements Client against the OpenAI chat-completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client from the given config.
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("llm api key is not set")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat completion stream failed")
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				out <- StreamChunk{Done: true, Err: errors.Wrap(err, "stream receive failed")}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- StreamChunk{Content: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
