// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"fmt"
	"strings"
	"time"
)

// Context represents the data necessary to build the context of the LLM.
// For consumers none of the fields can be assumed to be present.
type Context struct {
	Time       string
	ServerName string

	// Conversation being responded to
	ConversationID string

	// User that is making the request
	RequestingUserID string

	// Assistant specific
	AssistantName      string
	AssistantModel     string
	CustomInstructions string

	Parameters map[string]interface{}
}

// ContextOption defines a function that configures a Context
type ContextOption func(*Context)

// NewContext creates a new Context with the given options
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		Time: time.Now().UTC().Format(time.RFC1123),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func WithConversationID(id string) ContextOption {
	return func(c *Context) {
		c.ConversationID = id
	}
}

func WithRequestingUserID(id string) ContextOption {
	return func(c *Context) {
		c.RequestingUserID = id
	}
}

func WithAssistant(name, model, customInstructions string) ContextOption {
	return func(c *Context) {
		c.AssistantName = name
		c.AssistantModel = model
		c.CustomInstructions = customInstructions
	}
}

func (c Context) String() string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Time: %v\nServerName: %v", c.Time, c.ServerName))
	if c.ConversationID != "" {
		result.WriteString(fmt.Sprintf("\nConversation: %v", c.ConversationID))
	}
	if c.RequestingUserID != "" {
		result.WriteString(fmt.Sprintf("\nRequestingUser: %v", c.RequestingUserID))
	}
	if c.AssistantName != "" {
		result.WriteString(fmt.Sprintf("\nAssistant: %v", c.AssistantName))
	}

	if len(c.Parameters) > 0 {
		result.WriteString("\n--- Parameters ---\n")
		for key := range c.Parameters {
			result.WriteString(fmt.Sprintf(" %v", key))
		}
	}

	return result.String()
}
