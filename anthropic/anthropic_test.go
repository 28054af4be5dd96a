// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package anthropic

import (
	"testing"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-chat/marginalia/llm"
)

func TestConversationToMessages(t *testing.T) {
	tests := []struct {
		name       string
		posts      []llm.Post
		wantSystem string
		wantRoles  []anthropicSDK.MessageParamRole
	}{
		{
			name: "system post extracted",
			posts: []llm.Post{
				{Role: llm.PostRoleSystem, Message: "be terse"},
				{Role: llm.PostRoleUser, Message: "hi"},
			},
			wantSystem: "be terse",
			wantRoles:  []anthropicSDK.MessageParamRole{anthropicSDK.MessageParamRoleUser},
		},
		{
			name: "alternating roles",
			posts: []llm.Post{
				{Role: llm.PostRoleUser, Message: "q1"},
				{Role: llm.PostRoleBot, Message: "a1"},
				{Role: llm.PostRoleUser, Message: "q2"},
			},
			wantRoles: []anthropicSDK.MessageParamRole{
				anthropicSDK.MessageParamRoleUser,
				anthropicSDK.MessageParamRoleAssistant,
				anthropicSDK.MessageParamRoleUser,
			},
		},
		{
			name: "consecutive same-role posts merge",
			posts: []llm.Post{
				{Role: llm.PostRoleUser, Message: "part one"},
				{Role: llm.PostRoleUser, Message: "part two"},
			},
			wantRoles: []anthropicSDK.MessageParamRole{anthropicSDK.MessageParamRoleUser},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			system, messages := conversationToMessages(tc.posts)
			assert.Equal(t, tc.wantSystem, system)

			require.Len(t, messages, len(tc.wantRoles))
			for i, role := range tc.wantRoles {
				assert.Equal(t, role, messages[i].Role)
			}
		})
	}
}

func TestGetDefaultConfig(t *testing.T) {
	t.Run("uses service output limit", func(t *testing.T) {
		a := New(llm.ServiceConfig{DefaultModel: "claude-sonnet-4-0", OutputTokenLimit: 4096}, nil)
		cfg := a.GetDefaultConfig()
		assert.Equal(t, "claude-sonnet-4-0", cfg.Model)
		assert.Equal(t, 4096, cfg.MaxGeneratedTokens)
	})

	t.Run("falls back to package default", func(t *testing.T) {
		a := New(llm.ServiceConfig{DefaultModel: "claude-sonnet-4-0"}, nil)
		assert.Equal(t, DefaultMaxTokens, a.GetDefaultConfig().MaxGeneratedTokens)
	})
}
