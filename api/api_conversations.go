// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marginalia-chat/marginalia/conversations"
	"github.com/marginalia-chat/marginalia/streaming"
)

type createConversationRequest struct {
	AssistantName string `json:"assistantName"`
}

func (a *API) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	conversation, err := a.conversations.CreateConversation(req.AssistantName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, conversation)
}

func (a *API) handleGetConversation(c *gin.Context) {
	conversation, err := a.conversations.GetConversation(c.Param("conversationID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// handleSendMessage runs the send flow and streams the assistant reply back
// as server-sent events. The first event carries the minted message ids;
// update events carry the accumulated reply text.
func (a *API) handleSendMessage(c *gin.Context) {
	T := a.localizer(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	conversationID := c.Param("conversationID")
	locale := c.GetHeader("Accept-Language")

	result, err := a.conversations.SendMessage(c.Request.Context(), conversationID, req.Text, locale)
	if err != nil {
		switch {
		case errors.Is(err, conversations.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		case errors.Is(err, conversations.ErrNothingToSend):
			c.JSON(http.StatusBadRequest, gin.H{"error": T("marginalia.nothing_to_send", "There is nothing to send. Write a message or add a note first.")})
		case errors.Is(err, conversations.ErrAlreadyStreaming):
			c.JSON(http.StatusConflict, gin.H{"error": T("marginalia.already_streaming", "A reply is already being generated for this conversation.")})
		default:
			a.log.Error("Send failed", "error", err, "conversation_id", conversationID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	updates, unsubscribe := a.streamingService.Subscribe(result.AssistantMessageID)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message_ids", result)
	c.Writer.Flush()

	// The subscription attaches just after the stream starts, so a reply
	// that finishes immediately may never publish to this subscriber. The
	// ticker closes that window by checking the stream registry directly.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent("update", update)
			c.Writer.Flush()
			switch update.Control {
			case streaming.MessageStreamingControlEnd,
				streaming.MessageStreamingControlError,
				streaming.MessageStreamingControlCancel:
				return
			}
		case <-ticker.C:
			if !a.streamingService.IsStreaming(result.AssistantMessageID) {
				final, _ := a.conversations.LookupPlainText(result.AssistantMessageID)
				c.SSEvent("update", streaming.Update{
					MessageID: result.AssistantMessageID,
					Control:   streaming.MessageStreamingControlEnd,
					Next:      final,
				})
				c.Writer.Flush()
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (a *API) handleStopStreaming(c *gin.Context) {
	conversationID := c.Param("conversationID")
	if _, err := a.conversations.GetConversation(conversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	a.conversations.StopStreaming(conversationID)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
