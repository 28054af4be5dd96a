// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package bots

import (
	"github.com/marginalia-chat/marginalia/llm"
)

// Assistant pairs an assistant persona with its resolved service
// configuration and initialized language model.
//
//   - cfg: the persona configuration (name, display name, instructions)
//   - service: the RESOLVED service configuration (use GetService() to
//     access). Do not use cfg.ServiceID directly, it is an internal
//     reference.
//   - llm: the initialized language model instance
//
// Assistant instances should be created via EnsureAssistants() which
// resolves service references and initializes all fields.
type Assistant struct {
	cfg     llm.AssistantConfig
	service llm.ServiceConfig
	llm     llm.LanguageModel
}

func (a *Assistant) GetConfig() llm.AssistantConfig {
	return a.cfg
}

func (a *Assistant) LLM() llm.LanguageModel {
	return a.llm
}

func (a *Assistant) GetService() llm.ServiceConfig {
	return a.service
}

func (a *Assistant) SetLLMForTest(model llm.LanguageModel) {
	a.llm = model
}

// NewAssistant creates an Assistant with all fields initialized.
func NewAssistant(cfg llm.AssistantConfig, service llm.ServiceConfig, model llm.LanguageModel) *Assistant {
	return &Assistant{
		cfg:     cfg,
		service: service,
		llm:     model,
	}
}
