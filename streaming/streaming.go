// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package streaming

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/marginalia-chat/marginalia/i18n"
	"github.com/marginalia-chat/marginalia/llm"
	"github.com/marginalia-chat/marginalia/logger"
)

const MessageStreamingControlCancel = "cancel"
const MessageStreamingControlEnd = "end"
const MessageStreamingControlStart = "start"
const MessageStreamingControlError = "error"

// Update is one streaming event fanned out to subscribers of a message.
// Next carries the full accumulated message text so a subscriber that joins
// late or drops an event still converges on the right content.
type Update struct {
	MessageID string `json:"message_id"`
	Control   string `json:"control,omitempty"`
	Next      string `json:"next,omitempty"`
}

// Sink receives the final message text when a stream finishes for any
// reason, including cancellation with partial output.
type Sink func(messageID string, finalText string)

type Service interface {
	StreamToMessage(ctx context.Context, stream *llm.TextStreamResult, messageID string, userLocale string, sink Sink) error
	StopStreaming(messageID string)
	GetStreamingContext(inCtx context.Context, messageID string) (context.Context, error)
	FinishStreaming(messageID string)
	Subscribe(messageID string) (<-chan Update, func())
	IsStreaming(messageID string) bool
}

type messageStreamContext struct {
	cancel context.CancelFunc
}

var ErrAlreadyStreamingToMessage = fmt.Errorf("already streaming to message")

// subscriberBuffer bounds each subscriber channel. Slow subscribers drop
// intermediate updates; Next always carries the full text so nothing is lost.
const subscriberBuffer = 64

type MessageStreamService struct {
	mutex       sync.Mutex
	contexts    map[string]messageStreamContext
	subscribers map[string]map[int]chan Update
	nextSubID   int

	log  logger.Logger
	i18n *i18n.Bundle
}

func NewMessageStreamService(log logger.Logger, bundle *i18n.Bundle) *MessageStreamService {
	return &MessageStreamService{
		contexts:    make(map[string]messageStreamContext),
		subscribers: make(map[string]map[int]chan Update),
		log:         log,
		i18n:        bundle,
	}
}

// StreamToMessage starts streaming the result into the given message in the
// background. It returns ErrAlreadyStreamingToMessage if a stream for that
// message is already in flight.
func (p *MessageStreamService) StreamToMessage(ctx context.Context, stream *llm.TextStreamResult, messageID string, userLocale string, sink Sink) error {
	streamCtx, err := p.GetStreamingContext(ctx, messageID)
	if err != nil {
		return err
	}

	go func() {
		defer p.FinishStreaming(messageID)
		p.streamToMessage(streamCtx, stream, messageID, userLocale, sink)
	}()

	return nil
}

func (p *MessageStreamService) StopStreaming(messageID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if streamContext, ok := p.contexts[messageID]; ok {
		streamContext.cancel()
	}
	delete(p.contexts, messageID)
}

func (p *MessageStreamService) GetStreamingContext(inCtx context.Context, messageID string) (context.Context, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.contexts[messageID]; ok {
		return nil, ErrAlreadyStreamingToMessage
	}

	ctx, cancel := context.WithCancel(inCtx)
	p.contexts[messageID] = messageStreamContext{cancel: cancel}

	return ctx, nil
}

// FinishStreaming should be called when a streaming operation finishes on
// success or failure. It is safe to call multiple times, must be called at
// least once.
func (p *MessageStreamService) FinishStreaming(messageID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.contexts, messageID)
}

func (p *MessageStreamService) IsStreaming(messageID string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	_, ok := p.contexts[messageID]
	return ok
}

// Subscribe registers for updates on the given message. The returned
// function unsubscribes and closes the channel.
func (p *MessageStreamService) Subscribe(messageID string) (<-chan Update, func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if p.subscribers[messageID] == nil {
		p.subscribers[messageID] = make(map[int]chan Update)
	}
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[messageID][id] = ch

	unsubscribe := func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		if subs, ok := p.subscribers[messageID]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
			if len(subs) == 0 {
				delete(p.subscribers, messageID)
			}
		}
	}

	return ch, unsubscribe
}

func (p *MessageStreamService) publish(update Update) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, ch := range p.subscribers[update.MessageID] {
		select {
		case ch <- update:
		default:
			// Drop for slow subscribers. Next carries the full text so the
			// subscriber recovers on the following update.
		}
	}
}

// streamToMessage consumes stream events, fanning out incremental updates
// and delivering the final text to the sink.
func (p *MessageStreamService) streamToMessage(ctx context.Context, stream *llm.TextStreamResult, messageID string, userLocale string, sink Sink) {
	T := i18n.LocalizerFunc(p.i18n, userLocale)
	p.publish(Update{MessageID: messageID, Control: MessageStreamingControlStart})

	var message strings.Builder

	for {
		select {
		case event := <-stream.Stream:
			switch event.Type {
			case llm.EventTypeText:
				if textChunk, ok := event.Value.(string); ok {
					message.WriteString(textChunk)
					p.publish(Update{MessageID: messageID, Next: message.String()})
				}
			case llm.EventTypeEnd:
				final := message.String()
				if strings.TrimSpace(final) == "" {
					p.log.Error("LLM closed stream with no result", "message_id", messageID)
					final = T("marginalia.stream_no_result", "Sorry! The assistant did not return a result.")
					p.publish(Update{MessageID: messageID, Next: final})
				}
				if sink != nil {
					sink(messageID, final)
				}
				p.publish(Update{MessageID: messageID, Control: MessageStreamingControlEnd, Next: final})
				return
			case llm.EventTypeError:
				var err error
				if errValue, ok := event.Value.(error); ok {
					err = errValue
				} else {
					err = fmt.Errorf("unknown error from LLM")
				}
				p.log.Error("Streaming result to message failed partway", "message_id", messageID, "error", err)

				final := T("marginalia.stream_llm_error", "Sorry! An error occurred while accessing the assistant. See server logs for details.")
				if sink != nil {
					sink(messageID, final)
				}
				p.publish(Update{MessageID: messageID, Control: MessageStreamingControlError, Next: final})
				return
			}
		case <-ctx.Done():
			// Keep whatever partial output we have.
			final := message.String()
			if sink != nil {
				sink(messageID, final)
			}
			p.publish(Update{MessageID: messageID, Control: MessageStreamingControlCancel, Next: final})
			return
		}
	}
}
