// Package anthropic streams chat completions from the Anthropic API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"arbor/internal/domain/models"
	"arbor/internal/provider"
	"arbor/internal/stream"
)

const defaultMaxTokens = 1024

// Provider emits chunk events for Claude text deltas.
type Provider struct {
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider with the given API key.
func NewProvider(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &Provider{client: &client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "anthropic"
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "claude-")
}

// Stream starts a streaming completion and relays text deltas as chunk
// events, ending with exactly one end or error event.
func (p *Provider) Stream(ctx context.Context, req *provider.Request, ch *stream.Emitter) error {
	if !p.SupportsModel(req.Model) {
		return fmt.Errorf("model '%s' is not supported by Anthropic provider", req.Model)
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	go func() {
		apiStream := p.client.Messages.NewStreaming(ctx, params)

		for apiStream.Next() {
			event := apiStream.Current()

			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if e.Delta.Type == "text_delta" && e.Delta.Text != "" {
					ch.Emit(stream.EventChunk, e.Delta.Text)
				}
			}
		}

		if err := apiStream.Err(); err != nil {
			ch.Emit(stream.EventError, fmt.Sprintf("anthropic streaming error: %v", err))
			return
		}

		ch.Emit(stream.EventEnd, "")
	}()

	return nil
}

// convertMessages maps the chat envelope to Anthropic message params.
func convertMessages(msgs []models.ChatMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(block))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			return nil, fmt.Errorf("unsupported message role '%s'", msg.Role)
		}
	}
	return out, nil
}
