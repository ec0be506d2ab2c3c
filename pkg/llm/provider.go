package llm

import (
	"context"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Chat sends a chat history to the model and returns the response
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)

	// Generate sends a single prompt to the model (convenience method)
	Generate(ctx context.Context, prompt string, options ...Option) (string, error)
}

// ChunkHandler receives streamed text. Returning an error stops the stream.
type ChunkHandler func(chunk string) error

// StreamingProvider is implemented by backends that can emit tokens as they
// are produced.
type StreamingProvider interface {
	LLMProvider

	// ChatStream calls onChunk for every fragment and returns the full text.
	ChatStream(ctx context.Context, history []Message, onChunk ChunkHandler, options ...Option) (string, error)
}

// Stream uses ChatStream when the provider supports it and otherwise
// delivers the whole completion as a single chunk.
func Stream(ctx context.Context, p LLMProvider, history []Message, onChunk ChunkHandler, options ...Option) (string, error) {
	if sp, ok := p.(StreamingProvider); ok {
		return sp.ChatStream(ctx, history, onChunk, options...)
	}
	text, err := p.Chat(ctx, history, options...)
	if err != nil {
		return "", err
	}
	if text != "" {
		if err := onChunk(text); err != nil {
			return text, err
		}
	}
	return text, nil
}
