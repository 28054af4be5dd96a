// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package bots

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/marginalia-chat/marginalia/anthropic"
	"github.com/marginalia-chat/marginalia/bedrock"
	"github.com/marginalia-chat/marginalia/llm"
	"github.com/marginalia-chat/marginalia/logger"
	"github.com/marginalia-chat/marginalia/openai"
)

type Config interface {
	GetAssistants() []llm.AssistantConfig
	GetServiceByID(id string) (llm.ServiceConfig, bool)
	GetDefaultAssistantName() string
	EnableTokenUsageLogging() bool
}

type Assistants struct {
	config                Config
	llmUpstreamHTTPClient *http.Client
	log                   logger.Logger
	metrics               llm.MetricsObserver

	assistantsLock sync.RWMutex
	assistants     []*Assistant
}

func New(config Config, llmUpstreamHTTPClient *http.Client, log logger.Logger, metrics llm.MetricsObserver) *Assistants {
	return &Assistants{
		config:                config,
		llmUpstreamHTTPClient: llmUpstreamHTTPClient,
		log:                   log,
		metrics:               metrics,
	}
}

// EnsureAssistants rebuilds the assistant set from the current
// configuration, resolving each persona's service reference and
// constructing its language model client.
func (a *Assistants) EnsureAssistants() error {
	assistantCfgs := a.config.GetAssistants()

	var assistants []*Assistant
	assistantsByName := make(map[string]*Assistant)
	for _, cfg := range assistantCfgs {
		if !cfg.IsValid() {
			a.log.Error("Configured assistant is not valid", "assistant_name", cfg.Name, "assistant_display_name", cfg.DisplayName)
			continue
		}

		service, ok := a.config.GetServiceByID(cfg.ServiceID)
		if !ok {
			a.log.Error("Assistant references non-existent service", "assistant_name", cfg.Name, "service_id", cfg.ServiceID)
			continue
		}

		if !service.IsValid() {
			a.log.Error("Assistant references invalid service", "assistant_name", cfg.Name, "service_id", cfg.ServiceID, "service_type", service.Type)
			continue
		}

		if _, ok := assistantsByName[cfg.Name]; ok {
			// Duplicate names have to be fatal because the client addresses
			// assistants by name.
			return fmt.Errorf("duplicate assistant name: %s", cfg.Name)
		}

		// Use the assistant's model if specified, otherwise fall back to the
		// service's default model
		if cfg.Model != "" {
			service.DefaultModel = cfg.Model
		}

		model, err := a.getLLM(service, cfg)
		if err != nil {
			return err
		}

		assistant := &Assistant{cfg: cfg, service: service, llm: model}
		assistants = append(assistants, assistant)
		assistantsByName[cfg.Name] = assistant
	}

	a.assistantsLock.Lock()
	a.assistants = assistants
	a.assistantsLock.Unlock()

	return nil
}

func (a *Assistants) getLLM(serviceConfig llm.ServiceConfig, assistantConfig llm.AssistantConfig) (llm.LanguageModel, error) {
	var result llm.LanguageModel
	switch serviceConfig.Type {
	case llm.ServiceTypeOpenAI:
		result = openai.New(openai.ConfigFromServiceConfig(serviceConfig), a.llmUpstreamHTTPClient)
	case llm.ServiceTypeOpenAICompatible:
		result = openai.NewCompatible(openai.ConfigFromServiceConfig(serviceConfig), a.llmUpstreamHTTPClient)
	case llm.ServiceTypeAzure:
		result = openai.NewAzure(openai.ConfigFromServiceConfig(serviceConfig), a.llmUpstreamHTTPClient)
	case llm.ServiceTypeAnthropic:
		result = anthropic.New(serviceConfig, a.llmUpstreamHTTPClient)
	case llm.ServiceTypeBedrock:
		var err error
		result, err = bedrock.New(serviceConfig, a.llmUpstreamHTTPClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock client: %w", err)
		}
	default:
		a.log.Error("Unsupported service type for assistant", "assistant_name", assistantConfig.Name, "service_type", serviceConfig.Type)
		return nil, fmt.Errorf("unsupported service type: %s", serviceConfig.Type)
	}

	if a.config.EnableTokenUsageLogging() {
		result = llm.NewTokenUsageLoggingWrapper(
			result,
			assistantConfig.Name,
			a.log,
			a.metrics,
		)
	}

	return result, nil
}

func (a *Assistants) GetAssistantConfig(name string) (llm.AssistantConfig, error) {
	assistant := a.GetByName(name)
	if assistant == nil {
		return llm.AssistantConfig{}, fmt.Errorf("assistant not found")
	}

	return assistant.cfg, nil
}

// GetByName retrieves the assistant with the given name.
func (a *Assistants) GetByName(name string) *Assistant {
	a.assistantsLock.RLock()
	defer a.assistantsLock.RUnlock()
	for _, assistant := range a.assistants {
		if assistant.cfg.Name == name {
			return assistant
		}
	}

	return nil
}

// GetByNameOrDefault retrieves the assistant with the given name, falling
// back to the configured default and then to the first assistant.
func (a *Assistants) GetByNameOrDefault(name string) *Assistant {
	if assistant := a.GetByName(name); assistant != nil {
		return assistant
	}

	if assistant := a.GetByName(a.config.GetDefaultAssistantName()); assistant != nil {
		return assistant
	}

	a.assistantsLock.RLock()
	defer a.assistantsLock.RUnlock()
	if len(a.assistants) > 0 {
		return a.assistants[0]
	}

	return nil
}

// GetAll returns all assistants.
func (a *Assistants) GetAll() []*Assistant {
	a.assistantsLock.RLock()
	defer a.assistantsLock.RUnlock()

	return a.assistants
}

// SetAssistantsForTesting sets assistants directly for testing purposes only
func (a *Assistants) SetAssistantsForTesting(assistants []*Assistant) {
	a.assistantsLock.Lock()
	defer a.assistantsLock.Unlock()
	a.assistants = assistants
}
