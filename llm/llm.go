// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

// LanguageModelConfig holds the per-request tunables of a model call.
type LanguageModelConfig struct {
	Model              string
	MaxGeneratedTokens int
}

// LanguageModelOption mutates the config built from a provider's defaults.
type LanguageModelOption func(*LanguageModelConfig)

func WithModel(model string) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.Model = model
	}
}

func WithMaxGeneratedTokens(maxGeneratedTokens int) LanguageModelOption {
	return func(cfg *LanguageModelConfig) {
		cfg.MaxGeneratedTokens = maxGeneratedTokens
	}
}

// LanguageModel is the provider-neutral interface all backends implement.
type LanguageModel interface {
	ChatCompletion(request CompletionRequest, opts ...LanguageModelOption) (*TextStreamResult, error)
	ChatCompletionNoStream(request CompletionRequest, opts ...LanguageModelOption) (string, error)
	CountTokens(text string) int
	InputTokenLimit() int
}
