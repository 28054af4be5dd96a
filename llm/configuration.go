// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

// ServiceType names a supported model backend.
const (
	ServiceTypeAnthropic        = "anthropic"
	ServiceTypeOpenAI           = "openai"
	ServiceTypeOpenAICompatible = "openaicompatible"
	ServiceTypeAzure            = "azure"
	ServiceTypeBedrock          = "bedrock"
)

type ServiceConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	APIKey       string `json:"apiKey"`
	OrgID        string `json:"orgId"`
	DefaultModel string `json:"defaultModel"`
	APIURL       string `json:"apiURL"`

	InputTokenLimit         int `json:"inputTokenLimit"`
	OutputTokenLimit        int `json:"outputTokenLimit"`
	StreamingTimeoutSeconds int `json:"streamingTimeoutSeconds"`

	// Bedrock only
	Region             string `json:"region"`
	AWSAccessKeyID     string `json:"awsAccessKeyID"`
	AWSSecretAccessKey string `json:"awsSecretAccessKey"`
}

func (c *ServiceConfig) IsValid() bool {
	if c.ID == "" || c.Name == "" {
		return false
	}

	switch c.Type {
	case ServiceTypeAnthropic, ServiceTypeOpenAI:
		return c.APIKey != ""
	case ServiceTypeOpenAICompatible, ServiceTypeAzure:
		return c.APIURL != ""
	case ServiceTypeBedrock:
		return c.Region != ""
	default:
		return false
	}
}

// AssistantConfig describes one assistant persona selectable by the web client.
type AssistantConfig struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	DisplayName        string `json:"displayName"`
	CustomInstructions string `json:"customInstructions"`
	ServiceID          string `json:"serviceID"`

	// Model overrides the service's default model when set.
	Model string `json:"model"`
}

func (c *AssistantConfig) IsValid() bool {
	return c.Name != "" && c.DisplayName != "" && c.ServiceID != ""
}
