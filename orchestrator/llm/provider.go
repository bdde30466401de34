// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the provider interface the query generator talks to.
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"time"
)

// CompletionRequest describes a single non-streaming completion call.
type CompletionRequest struct {
	// Prompt is the user's input text.
	Prompt string `json:"prompt"`

	// SystemPrompt is an optional system message that sets behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// MaxTokens limits the response length. Provider defaults apply when 0.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling parameter, 0.0 to 1.0.
	TopP float64 `json:"top_p,omitempty"`

	// TopK limits sampling to the top K tokens.
	TopK int `json:"top_k,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// StopSequences halt generation when encountered.
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// CompletionResponse is the result of a completion call.
type CompletionResponse struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the actual model used.
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "max_tokens", "content_filter".
	FinishReason string `json:"finish_reason,omitempty"`
}

// UsageStats tracks token usage for monitoring.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the interface the generator depends on.
type Provider interface {
	// Name returns the unique identifier for this provider instance,
	// used for logging and metrics.
	Name() string

	// Complete generates a completion for the given request.
	// The context should be used for cancellation and timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsHealthy verifies the provider is operational.
	IsHealthy(ctx context.Context) error
}
