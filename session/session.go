// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package session tracks the lifecycle of one in-progress selection: idle,
// range selected (call-to-action shown), or composing a note. Selection
// resolution is deferred a tick in the browser so the native selection can
// settle; every gesture therefore carries a generation token, and a deferred
// result applies only while its token is still current.
package session

import (
	"sync"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/logger"
)

// State names a phase of the selection session.
type State int

const (
	StateIdle State = iota
	StateRangeSelected
	StateComposing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRangeSelected:
		return "range_selected"
	case StateComposing:
		return "composing"
	default:
		return "unknown"
	}
}

// Position is where the presentation layer should place the note toolbar.
// Opaque to the state machine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Range is a pending half-open selection range over one message's plain text.
type Range struct {
	MessageID string `json:"messageId"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	State           State    `json:"state"`
	Generation      uint64   `json:"generation"`
	Range           *Range   `json:"range,omitempty"`
	Position        Position `json:"position"`
	NoteText        string   `json:"noteText"`
	SelectedSnippet string   `json:"selectedSnippet"`
	EditingID       string   `json:"editingId,omitempty"`
}

// PlainTextLookup resolves a message id to its plain-text projection. The
// second return is false for unknown messages.
type PlainTextLookup func(messageID string) (string, bool)

type pending struct {
	rng             Range
	position        Position
	noteText        string
	selectedSnippet string
	editingID       string
}

// Manager is the selection session state machine. One exists per connected
// UI; all entry points are safe for concurrent use, though events arrive
// serially from a single browser.
type Manager struct {
	mu        sync.Mutex
	store     *annotation.Store
	plainText PlainTextLookup
	log       logger.Logger

	generation uint64
	state      State
	pending    *pending
}

func NewManager(store *annotation.Store, plainText PlainTextLookup, log logger.Logger) *Manager {
	return &Manager{
		store:     store,
		plainText: plainText,
		log:       log,
		state:     StateIdle,
	}
}

// Begin starts a new selection gesture: any previous session is cancelled
// and a fresh generation token is handed out. Deferred resolution results
// captured under older tokens will be discarded on arrival.
func (m *Manager) Begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.state = StateIdle
	m.pending = nil
	return m.generation
}

// ProposeRange applies a deferred selection-resolution result. Stale tokens
// are discarded silently. A proposal overlapping an existing annotation goes
// straight to Composing in edit mode; otherwise the session lands in
// RangeSelected showing the call-to-action. The store is never mutated here.
func (m *Manager) ProposeRange(token uint64, messageID string, start, end int, selectedSnippet string, pos Position) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation {
		m.log.Debug("Discarding stale selection result", "token", token, "generation", m.generation)
		return m.snapshotLocked()
	}

	if start >= end {
		m.state = StateIdle
		m.pending = nil
		return m.snapshotLocked()
	}

	rng := Range{MessageID: messageID, Start: start, End: end}

	if existing := m.store.FindOverlapping(messageID, start, end); existing != nil {
		text, _ := m.plainText(messageID)
		m.state = StateComposing
		m.pending = &pending{
			rng:             Range{MessageID: messageID, Start: existing.Start, End: existing.End},
			position:        pos,
			noteText:        existing.NoteText,
			selectedSnippet: existing.DisplaySnippet(text),
			editingID:       existing.ID,
		}
		return m.snapshotLocked()
	}

	m.state = StateRangeSelected
	m.pending = &pending{
		rng:             rng,
		position:        pos,
		selectedSnippet: selectedSnippet,
	}
	return m.snapshotLocked()
}

// ProposeUnmappable handles an unmappable or collapsed selection: the
// pending selection clears and the session returns to Idle. Stale tokens are
// ignored.
func (m *Manager) ProposeUnmappable(token uint64) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.generation {
		return m.snapshotLocked()
	}

	m.state = StateIdle
	m.pending = nil
	return m.snapshotLocked()
}

// Compose moves RangeSelected to Composing when the user accepts the
// call-to-action. A no-op in any other state.
func (m *Manager) Compose() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRangeSelected || m.pending == nil {
		return m.snapshotLocked()
	}

	m.state = StateComposing
	return m.snapshotLocked()
}

// OpenAnnotation is the click-on-span entry into Composing: the range is
// reconstructed from the stored offsets and the note pre-filled. The caller
// uses the returned range to scroll the annotation into view and pulse it.
// Unknown ids are a silent no-op.
func (m *Manager) OpenAnnotation(id string, pos Position) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.store.Get(id)
	if !ok {
		m.log.Debug("Ignoring open for unknown annotation", "annotation_id", id)
		return m.snapshotLocked()
	}

	text, _ := m.plainText(existing.MessageID)

	m.generation++
	m.state = StateComposing
	m.pending = &pending{
		rng:             Range{MessageID: existing.MessageID, Start: existing.Start, End: existing.End},
		position:        pos,
		noteText:        existing.NoteText,
		selectedSnippet: existing.DisplaySnippet(text),
		editingID:       existing.ID,
	}
	return m.snapshotLocked()
}

// Commit confirms the note: an insert for fresh selections, an update when
// editing. Returns the committed annotation. The session clears either way.
//
// Snippet policy: prefer the live selected text captured at proposal time;
// if empty, slice the message's plain text by the pending range; if that is
// empty too, store an empty snippet and let display re-slice live text.
func (m *Manager) Commit(noteText string) (*annotation.Annotation, Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateComposing || m.pending == nil {
		return nil, m.snapshotLocked()
	}

	p := m.pending
	snippet := p.selectedSnippet
	if snippet == "" {
		if text, ok := m.plainText(p.rng.MessageID); ok {
			snippet = sliceRunes(text, p.rng.Start, p.rng.End)
		}
	}

	var committed *annotation.Annotation
	if p.editingID != "" {
		m.store.UpdateNote(p.editingID, noteText, snippet)
		if updated, ok := m.store.Get(p.editingID); ok {
			committed = &updated
		}
	} else {
		inserted, err := m.store.Insert(p.rng.MessageID, p.rng.Start, p.rng.End, noteText, snippet)
		if err != nil {
			// Invalid pending range; absorbed, nothing happened.
			m.log.Warn("Refusing to commit invalid range", "error", err.Error(),
				"message_id", p.rng.MessageID, "start", p.rng.Start, "end", p.rng.End)
		} else {
			committed = &inserted
		}
	}

	m.state = StateIdle
	m.pending = nil
	return committed, m.snapshotLocked()
}

// Discard deletes the annotation being edited. Only reachable from
// Composing with an editing id; a no-op anywhere else.
func (m *Manager) Discard() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateComposing || m.pending == nil || m.pending.editingID == "" {
		return m.snapshotLocked()
	}

	m.store.Delete(m.pending.editingID)
	m.state = StateIdle
	m.pending = nil
	return m.snapshotLocked()
}

// Cancel returns to Idle from any state: explicit cancel, outside click, or
// an incompatible new selection.
func (m *Manager) Cancel() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateIdle
	m.pending = nil
	return m.snapshotLocked()
}

// Current returns the session snapshot without changing state.
func (m *Manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      m.state,
		Generation: m.generation,
	}
	if m.pending != nil {
		rng := m.pending.rng
		snap.Range = &rng
		snap.Position = m.pending.position
		snap.NoteText = m.pending.noteText
		snap.SelectedSnippet = m.pending.selectedSnippet
		snap.EditingID = m.pending.editingID
	}
	return snap
}

func sliceRunes(s string, start, end int) string {
	runes := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}
