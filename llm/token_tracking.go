// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"github.com/marginalia-chat/marginalia/logger"
)

// MetricsObserver defines the interface for observing token usage metrics
type MetricsObserver interface {
	ObserveTokenUsage(assistantName, conversationID string, inputTokens, outputTokens int)
}

// TokenUsageLoggingWrapper wraps a LanguageModel to log token usage
type TokenUsageLoggingWrapper struct {
	wrapped       LanguageModel
	assistantName string
	log           logger.Logger
	metrics       MetricsObserver
}

// NewTokenUsageLoggingWrapper creates a new wrapper that logs token usage
func NewTokenUsageLoggingWrapper(wrapped LanguageModel, assistantName string, log logger.Logger, metrics MetricsObserver) *TokenUsageLoggingWrapper {
	return &TokenUsageLoggingWrapper{
		wrapped:       wrapped,
		assistantName: assistantName,
		log:           log,
		metrics:       metrics,
	}
}

// ChatCompletion intercepts the streaming response to extract and log token
// usage. Usage events are consumed here and not forwarded downstream.
func (w *TokenUsageLoggingWrapper) ChatCompletion(request CompletionRequest, opts ...LanguageModelOption) (*TextStreamResult, error) {
	result, err := w.wrapped.ChatCompletion(request, opts...)
	if err != nil {
		return nil, err
	}

	interceptedStream := make(chan TextStreamEvent)

	go func() {
		defer close(interceptedStream)

		for event := range result.Stream {
			if event.Type != EventTypeUsage {
				interceptedStream <- event
				continue
			}

			usage, ok := event.Value.(TokenUsage)
			if !ok {
				continue
			}

			userID := "unknown"
			conversationID := "unknown"
			if request.Context != nil {
				if request.Context.RequestingUserID != "" {
					userID = request.Context.RequestingUserID
				}
				if request.Context.ConversationID != "" {
					conversationID = request.Context.ConversationID
				}
			}

			w.log.Info("Token Usage",
				"user_id", userID,
				"conversation_id", conversationID,
				"assistant_name", w.assistantName,
				"input_tokens", usage.InputTokens,
				"output_tokens", usage.OutputTokens,
				"total_tokens", usage.InputTokens+usage.OutputTokens,
			)

			if w.metrics != nil {
				w.metrics.ObserveTokenUsage(
					w.assistantName,
					conversationID,
					int(usage.InputTokens),
					int(usage.OutputTokens),
				)
			}
		}
	}()

	return &TextStreamResult{Stream: interceptedStream}, nil
}

// ChatCompletionNoStream uses the streaming method internally, so token usage
// logging happens automatically when ReadAll() processes the intercepted stream
func (w *TokenUsageLoggingWrapper) ChatCompletionNoStream(request CompletionRequest, opts ...LanguageModelOption) (string, error) {
	result, err := w.ChatCompletion(request, opts...)
	if err != nil {
		return "", err
	}
	return result.ReadAll()
}

// CountTokens delegates to the wrapped model
func (w *TokenUsageLoggingWrapper) CountTokens(text string) int {
	return w.wrapped.CountTokens(text)
}

// InputTokenLimit delegates to the wrapped model
func (w *TokenUsageLoggingWrapper) InputTokenLimit() int {
	return w.wrapped.InputTokenLimit()
}
