// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package conversations keeps the in-memory transcript for each chat and
// runs the send flow: format the outbound prompt from the note set and the
// user's free text, clear the notes, and stream the assistant reply.
package conversations

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/bots"
	"github.com/marginalia-chat/marginalia/llm"
	"github.com/marginalia-chat/marginalia/logger"
	"github.com/marginalia-chat/marginalia/plaintext"
	"github.com/marginalia-chat/marginalia/prompts"
	"github.com/marginalia-chat/marginalia/streaming"
)

var (
	// ErrNothingToSend is returned when neither notes nor free text produce
	// an outbound prompt.
	ErrNothingToSend = errors.New("nothing to send")
	// ErrAlreadyStreaming is returned when a reply is still being generated
	// for the conversation.
	ErrAlreadyStreaming = errors.New("already streaming a reply")
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrAssistantNotFound is returned when no assistant can serve the
	// conversation.
	ErrAssistantNotFound = errors.New("assistant not found")
)

type Message struct {
	ID        string       `json:"id"`
	Role      llm.PostRole `json:"role"`
	Text      string       `json:"text"`
	PlainText string       `json:"plainText"`
	CreatedAt time.Time    `json:"createdAt"`
}

type Conversation struct {
	ID            string    `json:"id"`
	AssistantName string    `json:"assistantName"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"createdAt"`
}

type messageRef struct {
	conversationID string
	index          int
}

type Conversations struct {
	mutex         sync.RWMutex
	conversations map[string]*Conversation
	messageIndex  map[string]messageRef
	inFlight      map[string]string // conversation id -> streaming assistant message id

	assistants       *bots.Assistants
	annotations      *annotation.Store
	formatter        *prompts.Formatter
	streamingService streaming.Service
	log              logger.Logger
}

func New(assistants *bots.Assistants, annotations *annotation.Store, formatter *prompts.Formatter, streamingService streaming.Service, log logger.Logger) *Conversations {
	return &Conversations{
		conversations:    make(map[string]*Conversation),
		messageIndex:     make(map[string]messageRef),
		inFlight:         make(map[string]string),
		assistants:       assistants,
		annotations:      annotations,
		formatter:        formatter,
		streamingService: streamingService,
		log:              log,
	}
}

// CreateConversation starts an empty transcript served by the named
// assistant, falling back to the default assistant when the name is unknown.
func (c *Conversations) CreateConversation(assistantName string) (Conversation, error) {
	assistant := c.assistants.GetByNameOrDefault(assistantName)
	if assistant == nil {
		return Conversation{}, ErrAssistantNotFound
	}

	conversation := &Conversation{
		ID:            uuid.NewString(),
		AssistantName: assistant.GetConfig().Name,
		CreatedAt:     time.Now(),
	}

	c.mutex.Lock()
	c.conversations[conversation.ID] = conversation
	c.mutex.Unlock()

	c.log.Debug("Conversation created", "conversation_id", conversation.ID, "assistant_name", conversation.AssistantName)

	return c.copyConversation(conversation.ID)
}

// GetConversation returns a copy of the transcript.
func (c *Conversations) GetConversation(conversationID string) (Conversation, error) {
	return c.copyConversation(conversationID)
}

func (c *Conversations) copyConversation(conversationID string) (Conversation, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	conversation, ok := c.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}

	out := *conversation
	out.Messages = make([]Message, len(conversation.Messages))
	copy(out.Messages, conversation.Messages)
	return out, nil
}

// LookupPlainText resolves a message id to its plain-text projection. It
// satisfies both session.PlainTextLookup and prompts.PlainTextLookup.
func (c *Conversations) LookupPlainText(messageID string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	ref, ok := c.messageIndex[messageID]
	if !ok {
		return "", false
	}
	return c.conversations[ref.conversationID].Messages[ref.index].PlainText, true
}

// recordMessage appends a message to the transcript, projecting markdown to
// plain text so the reply becomes the next annotatable surface.
func (c *Conversations) recordMessage(conversationID string, id string, role llm.PostRole, text string) Message {
	message := Message{
		ID:        id,
		Role:      role,
		Text:      text,
		PlainText: plaintext.Project(text),
		CreatedAt: time.Now(),
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	conversation, ok := c.conversations[conversationID]
	if !ok {
		return message
	}
	conversation.Messages = append(conversation.Messages, message)
	c.messageIndex[id] = messageRef{conversationID: conversationID, index: len(conversation.Messages) - 1}

	return message
}

func (c *Conversations) setMessageText(messageID string, text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ref, ok := c.messageIndex[messageID]
	if !ok {
		return
	}
	message := &c.conversations[ref.conversationID].Messages[ref.index]
	message.Text = text
	message.PlainText = plaintext.Project(text)
}

// SendResult reports the ids minted by a send so the client can follow the
// SSE stream for the assistant reply.
type SendResult struct {
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId"`
}

// SendMessage runs the send flow. The outbound prompt is formatted from the
// full note set plus the user's free text; an empty prompt refuses the send.
// The note set is cleared at send time so each turn starts clean. A send
// while a reply is still streaming for this conversation is refused.
func (c *Conversations) SendMessage(ctx context.Context, conversationID string, userText string, userLocale string) (SendResult, error) {
	conversation, err := c.copyConversation(conversationID)
	if err != nil {
		return SendResult{}, err
	}

	assistant := c.assistants.GetByNameOrDefault(conversation.AssistantName)
	if assistant == nil {
		return SendResult{}, ErrAssistantNotFound
	}

	// Claim the conversation before doing any work so concurrent sends are
	// refused, not interleaved. The claim is released on any failure below.
	c.mutex.Lock()
	if _, streaming := c.inFlight[conversationID]; streaming {
		c.mutex.Unlock()
		return SendResult{}, ErrAlreadyStreaming
	}
	c.inFlight[conversationID] = ""
	c.mutex.Unlock()

	release := func() {
		c.mutex.Lock()
		delete(c.inFlight, conversationID)
		c.mutex.Unlock()
	}

	prompt, err := c.formatter.Format(userText, c.annotations.All(), c.LookupPlainText)
	if err != nil {
		release()
		return SendResult{}, err
	}
	if prompt == "" {
		release()
		return SendResult{}, ErrNothingToSend
	}

	// Each turn starts with a clean slate of notes.
	c.annotations.ClearAll()

	llmContext := llm.NewContext(
		llm.WithConversationID(conversationID),
		llm.WithAssistant(assistant.GetConfig().DisplayName, assistant.GetService().DefaultModel, assistant.GetConfig().CustomInstructions),
	)

	systemPrompt, err := c.formatter.FormatSystem(llmContext)
	if err != nil {
		release()
		return SendResult{}, err
	}

	userMessage := c.recordMessage(conversationID, uuid.NewString(), llm.PostRoleUser, prompt)

	posts := make([]llm.Post, 0, len(conversation.Messages)+2)
	posts = append(posts, llm.Post{Role: llm.PostRoleSystem, Message: systemPrompt})
	for _, message := range conversation.Messages {
		posts = append(posts, llm.Post{Role: message.Role, Message: message.Text})
	}
	posts = append(posts, llm.Post{Role: llm.PostRoleUser, Message: prompt})

	stream, err := assistant.LLM().ChatCompletion(llm.CompletionRequest{
		Posts:   posts,
		Context: llmContext,
	})
	if err != nil {
		release()
		return SendResult{}, err
	}

	assistantMessageID := uuid.NewString()
	c.recordMessage(conversationID, assistantMessageID, llm.PostRoleBot, "")

	c.mutex.Lock()
	c.inFlight[conversationID] = assistantMessageID
	c.mutex.Unlock()

	sink := func(messageID string, finalText string) {
		c.setMessageText(messageID, finalText)
		release()
		c.log.Debug("Assistant reply recorded", "conversation_id", conversationID, "message_id", messageID)
	}

	if err := c.streamingService.StreamToMessage(ctx, stream, assistantMessageID, userLocale, sink); err != nil {
		release()
		if errors.Is(err, streaming.ErrAlreadyStreamingToMessage) {
			return SendResult{}, ErrAlreadyStreaming
		}
		return SendResult{}, err
	}

	return SendResult{
		UserMessageID:      userMessage.ID,
		AssistantMessageID: assistantMessageID,
	}, nil
}

// StopStreaming cancels the in-flight reply for the conversation, if any.
func (c *Conversations) StopStreaming(conversationID string) {
	c.mutex.Lock()
	messageID, ok := c.inFlight[conversationID]
	c.mutex.Unlock()
	if !ok {
		return
	}
	c.streamingService.StopStreaming(messageID)
}

// IsStreaming reports whether a reply is being generated for the
// conversation.
func (c *Conversations) IsStreaming(conversationID string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.inFlight[conversationID]
	return ok
}
