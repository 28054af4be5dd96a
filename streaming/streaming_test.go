// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-chat/marginalia/i18n"
	"github.com/marginalia-chat/marginalia/llm"
	"github.com/marginalia-chat/marginalia/logger"
)

func newTestService() *MessageStreamService {
	return NewMessageStreamService(logger.NewNop(), i18n.Init())
}

func collectFinal(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				t.Fatal("updates channel closed before a terminal control event")
			}
			switch update.Control {
			case MessageStreamingControlEnd, MessageStreamingControlError, MessageStreamingControlCancel:
				return update
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for terminal control event")
		}
	}
}

func TestStreamToMessageDeliversText(t *testing.T) {
	service := newTestService()

	updates, unsubscribe := service.Subscribe("m1")
	defer unsubscribe()

	var sunk string
	sink := func(messageID, finalText string) {
		sunk = finalText
	}

	stream := llm.NewStreamFromString("Hello world")
	require.NoError(t, service.StreamToMessage(context.Background(), stream, "m1", "en", sink))

	final := collectFinal(t, updates)
	assert.Equal(t, MessageStreamingControlEnd, final.Control)
	assert.Equal(t, "Hello world", final.Next)
	assert.Equal(t, "Hello world", sunk)
}

func TestStreamToMessageAlreadyStreaming(t *testing.T) {
	service := newTestService()

	events := make(chan llm.TextStreamEvent)
	blocked := &llm.TextStreamResult{Stream: events}
	require.NoError(t, service.StreamToMessage(context.Background(), blocked, "m1", "en", nil))

	err := service.StreamToMessage(context.Background(), llm.NewStreamFromString("x"), "m1", "en", nil)
	assert.ErrorIs(t, err, ErrAlreadyStreamingToMessage)
	assert.True(t, service.IsStreaming("m1"))

	events <- llm.TextStreamEvent{Type: llm.EventTypeEnd}
	close(events)
}

func TestStreamToMessageEmptyResult(t *testing.T) {
	service := newTestService()

	updates, unsubscribe := service.Subscribe("m1")
	defer unsubscribe()

	events := make(chan llm.TextStreamEvent, 1)
	events <- llm.TextStreamEvent{Type: llm.EventTypeEnd}
	require.NoError(t, service.StreamToMessage(context.Background(), &llm.TextStreamResult{Stream: events}, "m1", "en", nil))

	final := collectFinal(t, updates)
	assert.Equal(t, MessageStreamingControlEnd, final.Control)
	assert.Contains(t, final.Next, "did not return a result")
}

func TestStreamToMessageError(t *testing.T) {
	service := newTestService()

	updates, unsubscribe := service.Subscribe("m1")
	defer unsubscribe()

	events := make(chan llm.TextStreamEvent, 2)
	events <- llm.TextStreamEvent{Type: llm.EventTypeText, Value: "partial"}
	events <- llm.TextStreamEvent{Type: llm.EventTypeError, Value: errors.New("upstream broke")}

	var sunk string
	sink := func(messageID, finalText string) { sunk = finalText }
	require.NoError(t, service.StreamToMessage(context.Background(), &llm.TextStreamResult{Stream: events}, "m1", "en", sink))

	final := collectFinal(t, updates)
	assert.Equal(t, MessageStreamingControlError, final.Control)
	assert.Contains(t, final.Next, "error occurred")
	assert.Contains(t, sunk, "error occurred")
}

func TestStopStreamingKeepsPartialOutput(t *testing.T) {
	service := newTestService()

	updates, unsubscribe := service.Subscribe("m1")
	defer unsubscribe()

	events := make(chan llm.TextStreamEvent)
	var sunk string
	done := make(chan struct{})
	sink := func(messageID, finalText string) {
		sunk = finalText
		close(done)
	}
	require.NoError(t, service.StreamToMessage(context.Background(), &llm.TextStreamResult{Stream: events}, "m1", "en", sink))

	events <- llm.TextStreamEvent{Type: llm.EventTypeText, Value: "partial "}
	events <- llm.TextStreamEvent{Type: llm.EventTypeText, Value: "output"}

	service.StopStreaming("m1")

	final := collectFinal(t, updates)
	assert.Equal(t, MessageStreamingControlCancel, final.Control)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sink never called after cancel")
	}
	assert.Equal(t, "partial output", sunk)
	assert.False(t, service.IsStreaming("m1"))
}

func TestSubscribeUnsubscribe(t *testing.T) {
	service := newTestService()

	updates, unsubscribe := service.Subscribe("m1")
	unsubscribe()

	_, ok := <-updates
	assert.False(t, ok, "channel should be closed after unsubscribe")

	// Unsubscribing twice must not panic
	unsubscribe()
}
