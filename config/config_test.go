// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-chat/marginalia/llm"
)

func validConfig() *Config {
	return &Config{
		Services: []llm.ServiceConfig{
			{ID: "s1", Name: "OpenAI", Type: llm.ServiceTypeOpenAI, APIKey: "k"},
		},
		Assistants: []llm.AssistantConfig{
			{ID: "a1", Name: "scribe", DisplayName: "Scribe", ServiceID: "s1"},
		},
		DefaultAssistantName: "scribe",
		HTTP:                 HTTPConfig{ListenAddress: ":8065"},
	}
}

func TestConfigIsValid(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().IsValid())
	})

	t.Run("invalid service", func(t *testing.T) {
		cfg := validConfig()
		cfg.Services[0].APIKey = ""
		assert.Error(t, cfg.IsValid())
	})

	t.Run("duplicate service id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Services = append(cfg.Services, cfg.Services[0])
		assert.Error(t, cfg.IsValid())
	})

	t.Run("assistant references unknown service", func(t *testing.T) {
		cfg := validConfig()
		cfg.Assistants[0].ServiceID = "missing"
		assert.Error(t, cfg.IsValid())
	})

	t.Run("duplicate assistant name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Assistants = append(cfg.Assistants, cfg.Assistants[0])
		assert.Error(t, cfg.IsValid())
	})
}

func TestConfigClone(t *testing.T) {
	cfg := validConfig()
	clone := cfg.Clone()

	clone.Services[0].APIKey = "changed"
	assert.Equal(t, "k", cfg.Services[0].APIKey)
}

func TestContainerUpdate(t *testing.T) {
	container := &Container{}

	notified := 0
	container.RegisterUpdateListener(func() { notified++ })

	cfg := validConfig()
	container.Update(cfg)
	assert.Equal(t, 1, notified)

	// Mutating the original must not leak into the container
	cfg.DefaultAssistantName = "changed"
	assert.Equal(t, "scribe", container.GetDefaultAssistantName())

	service, ok := container.GetServiceByID("s1")
	require.True(t, ok)
	assert.Equal(t, "OpenAI", service.Name)

	_, ok = container.GetServiceByID("missing")
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"services": [{"id": "s1", "name": "OpenAI", "type": "openai", "apiKey": "k"}],
			"assistants": [{"id": "a1", "name": "scribe", "displayName": "Scribe", "serviceID": "s1"}],
			"defaultAssistantName": "scribe",
			"http": {"listenAddress": ":8065"}
		}`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "scribe", cfg.DefaultAssistantName)
		assert.Len(t, cfg.Services, 1)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"assistants": [{"id": "a1", "name": "scribe", "displayName": "Scribe", "serviceID": "missing"}]
		}`), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}
