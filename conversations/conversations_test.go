// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package conversations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/bots"
	"github.com/marginalia-chat/marginalia/i18n"
	"github.com/marginalia-chat/marginalia/llm"
	"github.com/marginalia-chat/marginalia/logger"
	"github.com/marginalia-chat/marginalia/prompts"
	"github.com/marginalia-chat/marginalia/streaming"
)

// stubLLM replays a fixed reply and captures the requests it receives.
type stubLLM struct {
	mutex    sync.Mutex
	reply    string
	requests []llm.CompletionRequest

	// when set, streams block until released instead of replaying reply
	hold chan llm.TextStreamEvent
}

func (s *stubLLM) ChatCompletion(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (*llm.TextStreamResult, error) {
	s.mutex.Lock()
	s.requests = append(s.requests, request)
	s.mutex.Unlock()

	if s.hold != nil {
		return &llm.TextStreamResult{Stream: s.hold}, nil
	}
	return llm.NewStreamFromString(s.reply), nil
}

func (s *stubLLM) ChatCompletionNoStream(request llm.CompletionRequest, opts ...llm.LanguageModelOption) (string, error) {
	result, err := s.ChatCompletion(request, opts...)
	if err != nil {
		return "", err
	}
	return result.ReadAll()
}

func (s *stubLLM) CountTokens(text string) int { return len(text) / 4 }
func (s *stubLLM) InputTokenLimit() int        { return 100000 }

func (s *stubLLM) lastRequest() llm.CompletionRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.requests[len(s.requests)-1]
}

type fixture struct {
	conversations *Conversations
	annotations   *annotation.Store
	stream        *streaming.MessageStreamService
	llm           *stubLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	assistantCfg := llm.AssistantConfig{
		ID:          "a1",
		Name:        "scribe",
		DisplayName: "Scribe",
		ServiceID:   "service1",
	}
	serviceCfg := llm.ServiceConfig{
		ID:     "service1",
		Name:   "Test",
		Type:   llm.ServiceTypeOpenAI,
		APIKey: "k",
	}

	model := &stubLLM{reply: "An assistant reply."}
	assistants := bots.New(&fakeConfig{}, nil, logger.NewNop(), nil)
	assistants.SetAssistantsForTesting([]*bots.Assistant{
		bots.NewAssistant(assistantCfg, serviceCfg, model),
	})

	store := annotation.NewStore()
	formatter, err := prompts.NewFormatter()
	require.NoError(t, err)
	streamService := streaming.NewMessageStreamService(logger.NewNop(), i18n.Init())

	return &fixture{
		conversations: New(assistants, store, formatter, streamService, logger.NewNop()),
		annotations:   store,
		stream:        streamService,
		llm:           model,
	}
}

type fakeConfig struct{}

func (f *fakeConfig) GetAssistants() []llm.AssistantConfig { return nil }
func (f *fakeConfig) GetServiceByID(id string) (llm.ServiceConfig, bool) {
	return llm.ServiceConfig{}, false
}
func (f *fakeConfig) GetDefaultAssistantName() string { return "scribe" }
func (f *fakeConfig) EnableTokenUsageLogging() bool   { return false }

func waitForReply(t *testing.T, f *fixture, messageID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !f.stream.IsStreaming(messageID) {
			if text, ok := f.conversations.LookupPlainText(messageID); ok && text != "" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("assistant reply never recorded")
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)
	assert.NotEmpty(t, conversation.ID)
	assert.Equal(t, "scribe", conversation.AssistantName)
	assert.Empty(t, conversation.Messages)

	// Unknown assistant name falls back to the default
	fallback, err := f.conversations.CreateConversation("nope")
	require.NoError(t, err)
	assert.Equal(t, "scribe", fallback.AssistantName)

	_, err = f.conversations.GetConversation("missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendMessageNothingToSend(t *testing.T) {
	f := newFixture(t)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)

	_, err = f.conversations.SendMessage(context.Background(), conversation.ID, "   ", "en")
	assert.ErrorIs(t, err, ErrNothingToSend)
}

func TestSendMessageRecordsTranscript(t *testing.T) {
	f := newFixture(t)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)

	result, err := f.conversations.SendMessage(context.Background(), conversation.ID, "What is a closure?", "en")
	require.NoError(t, err)
	require.NotEmpty(t, result.UserMessageID)
	require.NotEmpty(t, result.AssistantMessageID)

	waitForReply(t, f, result.AssistantMessageID)

	got, err := f.conversations.GetConversation(conversation.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, llm.PostRoleUser, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Text, "What is a closure?")
	assert.Equal(t, llm.PostRoleBot, got.Messages[1].Role)
	assert.Equal(t, "An assistant reply.", got.Messages[1].Text)
	assert.Equal(t, "An assistant reply.", got.Messages[1].PlainText)

	// Request carried a system prompt followed by the user prompt
	request := f.llm.lastRequest()
	require.NotEmpty(t, request.Posts)
	assert.Equal(t, llm.PostRoleSystem, request.Posts[0].Role)
	assert.Equal(t, llm.PostRoleUser, request.Posts[len(request.Posts)-1].Role)
}

func TestSendMessageIncludesNotesAndClearsStore(t *testing.T) {
	f := newFixture(t)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)

	_, err = f.annotations.Insert("some-message", 4, 9, "why quick?", "quick")
	require.NoError(t, err)

	result, err := f.conversations.SendMessage(context.Background(), conversation.ID, "Explain.", "en")
	require.NoError(t, err)
	waitForReply(t, f, result.AssistantMessageID)

	request := f.llm.lastRequest()
	prompt := request.Posts[len(request.Posts)-1].Message
	assert.Contains(t, prompt, `[1] "quick"`)
	assert.Contains(t, prompt, "why quick?")
	assert.Contains(t, prompt, "Explain.")

	// Clear-on-send: the store is empty for the next turn
	assert.Empty(t, f.annotations.All())
}

func TestSendMessageAnnotationsOnlyNoFreeText(t *testing.T) {
	f := newFixture(t)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)

	_, err = f.annotations.Insert("some-message", 0, 3, "what does this mean?", "The")
	require.NoError(t, err)

	result, err := f.conversations.SendMessage(context.Background(), conversation.ID, "", "en")
	require.NoError(t, err)
	waitForReply(t, f, result.AssistantMessageID)

	request := f.llm.lastRequest()
	prompt := request.Posts[len(request.Posts)-1].Message
	assert.Contains(t, prompt, "Please address each note above.")
}

func TestSendMessageRefusedWhileStreaming(t *testing.T) {
	f := newFixture(t)
	f.llm.hold = make(chan llm.TextStreamEvent)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)

	result, err := f.conversations.SendMessage(context.Background(), conversation.ID, "first", "en")
	require.NoError(t, err)
	assert.True(t, f.conversations.IsStreaming(conversation.ID))

	_, err = f.conversations.SendMessage(context.Background(), conversation.ID, "second", "en")
	assert.ErrorIs(t, err, ErrAlreadyStreaming)

	// Finish the held stream
	f.llm.hold <- llm.TextStreamEvent{Type: llm.EventTypeText, Value: "done"}
	f.llm.hold <- llm.TextStreamEvent{Type: llm.EventTypeEnd}
	waitForReply(t, f, result.AssistantMessageID)
	assert.False(t, f.conversations.IsStreaming(conversation.ID))
}

func TestStopStreamingKeepsPartial(t *testing.T) {
	f := newFixture(t)
	f.llm.hold = make(chan llm.TextStreamEvent)

	conversation, err := f.conversations.CreateConversation("scribe")
	require.NoError(t, err)

	result, err := f.conversations.SendMessage(context.Background(), conversation.ID, "first", "en")
	require.NoError(t, err)

	f.llm.hold <- llm.TextStreamEvent{Type: llm.EventTypeText, Value: "partial text"}
	f.conversations.StopStreaming(conversation.ID)

	waitForReply(t, f, result.AssistantMessageID)
	text, ok := f.conversations.LookupPlainText(result.AssistantMessageID)
	require.True(t, ok)
	assert.Equal(t, "partial text", text)
}

func TestLookupPlainTextUnknownMessage(t *testing.T) {
	f := newFixture(t)
	_, ok := f.conversations.LookupPlainText("missing")
	assert.False(t, ok)
}
