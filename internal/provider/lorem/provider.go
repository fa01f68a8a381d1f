// Package lorem is a mock chat provider that streams lorem ipsum text.
// Used for development and tests without real API keys.
package lorem

import (
	"context"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"arbor/internal/provider"
	"arbor/internal/stream"
)

const defaultWords = 60

// Provider generates word-by-word chunk events at a model-dependent pace.
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider() *Provider {
	return &Provider{generator: loremgen.New()}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow", "lorem-test"
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// Stream emits generated words as chunk events, then a single end event.
// Cancellation of ctx ends the sequence with an error event; a consumer
// that initiated the cancellation has already unsubscribed and drops it.
func (p *Provider) Stream(ctx context.Context, req *provider.Request, ch *stream.Emitter) error {
	if !p.SupportsModel(req.Model) {
		return fmt.Errorf("model '%s' is not supported by lorem provider", req.Model)
	}

	words := strings.Fields(p.generateText(targetWords(req)))
	delay := streamDelay(req.Model)

	go func() {
		for _, word := range words {
			select {
			case <-ctx.Done():
				ch.Emit(stream.EventError, ctx.Err().Error())
				return
			default:
			}

			ch.Emit(stream.EventChunk, word+" ")

			if delay > 0 {
				time.Sleep(delay)
			}
		}
		ch.Emit(stream.EventEnd, "")
	}()

	return nil
}

// streamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second
// - lorem-fast: 30 words/second
// - lorem-test: no delay (for tests)
// - default: 10 words/second
func streamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	case strings.Contains(model, "test"):
		return 0
	default:
		return 100 * time.Millisecond
	}
}

func targetWords(req *provider.Request) int {
	if req.MaxTokens > 0 && req.MaxTokens < defaultWords {
		return req.MaxTokens
	}
	return defaultWords
}

// generateText generates lorem ipsum text with approximately targetWords
// words.
func (p *Provider) generateText(target int) string {
	var sb strings.Builder
	wordCount := 0

	for wordCount < target {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}

	return strings.TrimSpace(sb.String())
}
