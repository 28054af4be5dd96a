// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/marginalia-chat/marginalia/llm"
)

type HTTPConfig struct {
	ListenAddress string `json:"listenAddress"`

	// Seconds; zero means no limit.
	ReadTimeoutSeconds  int `json:"readTimeoutSeconds"`
	WriteTimeoutSeconds int `json:"writeTimeoutSeconds"`
}

type Config struct {
	Services                []llm.ServiceConfig   `json:"services"`
	Assistants              []llm.AssistantConfig `json:"assistants"`
	DefaultAssistantName    string                `json:"defaultAssistantName"`
	HTTP                    HTTPConfig            `json:"http"`
	LogLevel                string                `json:"logLevel"`
	EnableTokenUsageLogging bool                  `json:"enableTokenUsageLogging"`
}

func (c *Config) Clone() *Config {
	clone, err := DeepCopyJSON(*c)
	if err != nil {
		panic(fmt.Sprintf("failed to clone configuration: %v", err))
	}

	return &clone
}

// GetServiceByID returns the service configuration for the given ID
func (c *Config) GetServiceByID(id string) (llm.ServiceConfig, bool) {
	for i := range c.Services {
		if c.Services[i].ID == id {
			return c.Services[i], true
		}
	}
	return llm.ServiceConfig{}, false
}

// IsValid checks referential integrity between assistants and services.
func (c *Config) IsValid() error {
	seenServices := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		service := &c.Services[i]
		if !service.IsValid() {
			return fmt.Errorf("invalid service configuration: %q", service.ID)
		}
		if seenServices[service.ID] {
			return fmt.Errorf("duplicate service id: %q", service.ID)
		}
		seenServices[service.ID] = true
	}

	seenAssistants := make(map[string]bool, len(c.Assistants))
	for i := range c.Assistants {
		assistant := &c.Assistants[i]
		if !assistant.IsValid() {
			return fmt.Errorf("invalid assistant configuration: %q", assistant.Name)
		}
		if seenAssistants[assistant.Name] {
			return fmt.Errorf("duplicate assistant name: %q", assistant.Name)
		}
		seenAssistants[assistant.Name] = true
		if !seenServices[assistant.ServiceID] {
			return fmt.Errorf("assistant %q references unknown service %q", assistant.Name, assistant.ServiceID)
		}
	}

	return nil
}

// Load reads a configuration file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

type UpdateListener func()

type Container struct {
	cfg       atomic.Pointer[Config]
	listeners []UpdateListener
}

// Config returns the whole configuration readonly.
// Avoid using this method, prefer using config through interfaces.
func (c *Container) Config() *Config {
	return c.cfg.Load()
}

func (c *Container) GetAssistants() []llm.AssistantConfig {
	return c.cfg.Load().Assistants
}

func (c *Container) GetDefaultAssistantName() string {
	return c.cfg.Load().DefaultAssistantName
}

func (c *Container) EnableTokenUsageLogging() bool {
	return c.cfg.Load().EnableTokenUsageLogging
}

func (c *Container) RegisterUpdateListener(listener UpdateListener) {
	c.listeners = append(c.listeners, listener)
}

// GetServiceByID returns the service configuration for the given ID
func (c *Container) GetServiceByID(id string) (llm.ServiceConfig, bool) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return llm.ServiceConfig{}, false
	}
	return cfg.GetServiceByID(id)
}

// Update replaces the current configuration.
// The new configuration is deep-copied to ensure the new and old
// configurations are independent of each other.
func (c *Container) Update(newConfig *Config) {
	if newConfig == nil {
		c.cfg.Store(nil)
		return
	}
	clone, err := DeepCopyJSON(*newConfig)
	if err != nil {
		panic(fmt.Sprintf("failed to deep copy configuration: %v", err))
	}

	c.cfg.Store(&clone)

	for _, listener := range c.listeners {
		listener()
	}
}

// DeepCopyJSON creates a deep copy of JSON-serializable structs
func DeepCopyJSON[T any](src T) (T, error) {
	var dst T
	data, err := json.Marshal(src)
	if err != nil {
		return dst, err
	}
	err = json.Unmarshal(data, &dst)
	return dst, err
}
