// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package annotation keeps the user's highlighted excerpts and their notes,
// grouped by message. Offsets are rune offsets into the message's plain-text
// projection; annotations on different messages never share coordinates.
package annotation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Annotation is a user-authored note anchored to a character range of one
// message's plain text. Snippet caches the highlighted text at creation or
// edit time so display survives later changes of the source; an empty
// snippet means "re-slice from live text at render time".
type Annotation struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	NoteText  string    `json:"noteText"`
	Snippet   string    `json:"snippet,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplaySnippet returns the cached snippet, falling back to a live re-slice
// of the message's plain text when no snippet was stored. Out-of-bounds
// offsets clamp rather than fail.
func (a Annotation) DisplaySnippet(plainText string) string {
	if a.Snippet != "" {
		return a.Snippet
	}

	runes := []rune(plainText)
	start := a.Start
	end := a.End
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

// ErrInvalidRange is returned by Insert for ranges violating 0 <= start < end.
var ErrInvalidRange = errors.New("annotation range must satisfy 0 <= start < end")

// Store holds every message's annotation set. All methods are safe for
// concurrent use. Per-message sets keep insertion order; display order
// (start ascending) is derived in ForMessage.
type Store struct {
	mu        sync.RWMutex
	byMessage map[string][]Annotation
	versions  map[string]uint64
}

func NewStore() *Store {
	return &Store{
		byMessage: make(map[string][]Annotation),
		versions:  make(map[string]uint64),
	}
}

// Insert creates a new annotation with a fresh id and appends it to the
// message's set.
func (s *Store) Insert(messageID string, start, end int, noteText, snippet string) (Annotation, error) {
	if start < 0 || start >= end {
		return Annotation{}, errors.Wrapf(ErrInvalidRange, "start %d, end %d", start, end)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := Annotation{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Start:     start,
		End:       end,
		NoteText:  noteText,
		Snippet:   snippet,
		CreatedAt: time.Now().UTC(),
	}
	s.byMessage[messageID] = append(s.byMessage[messageID], a)
	s.versions[messageID]++

	return a, nil
}

// UpdateNote replaces the note text of an existing annotation. A non-empty
// snippet replaces the cached one; an empty snippet keeps it. Unknown ids
// are a silent no-op.
func (s *Store) UpdateNote(id, noteText, snippet string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for messageID, set := range s.byMessage {
		for i := range set {
			if set[i].ID != id {
				continue
			}
			set[i].NoteText = noteText
			if snippet != "" {
				set[i].Snippet = snippet
			}
			s.versions[messageID]++
			return
		}
	}
}

// Delete removes the annotation from whichever message's set contains it.
// Unknown ids are a silent no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for messageID, set := range s.byMessage {
		for i := range set {
			if set[i].ID != id {
				continue
			}
			s.byMessage[messageID] = append(set[:i:i], set[i+1:]...)
			s.versions[messageID]++
			return
		}
	}
}

// Get returns a copy of the annotation with the given id.
func (s *Store) Get(id string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, set := range s.byMessage {
		for i := range set {
			if set[i].ID == id {
				return set[i], true
			}
		}
	}
	return Annotation{}, false
}

// FindOverlapping returns the first annotation in stored order whose range
// strictly overlaps [start, end): touching endpoints do not count. Returns
// nil when nothing overlaps. A linear scan is deliberate: annotation counts
// per message are human-curated and small.
func (s *Store) FindOverlapping(messageID string, start, end int) *Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.byMessage[messageID] {
		if start < a.End && end > a.Start {
			found := a
			return &found
		}
	}
	return nil
}

// ForMessage returns a copy of the message's annotations sorted by start
// ascending; ties keep stored order.
func (s *Store) ForMessage(messageID string) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.byMessage[messageID]
	out := make([]Annotation, len(set))
	copy(out, set)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}

// All returns every annotation across all messages, each message's set
// sorted by start ascending, messages ordered by id for determinism.
func (s *Store) All() []Annotation {
	s.mu.RLock()
	messageIDs := make([]string, 0, len(s.byMessage))
	for id := range s.byMessage {
		if len(s.byMessage[id]) > 0 {
			messageIDs = append(messageIDs, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(messageIDs)

	var out []Annotation
	for _, id := range messageIDs {
		out = append(out, s.ForMessage(id)...)
	}
	return out
}

// ClearAll empties every message's set. Invoked once per prompt submission
// so each assistant turn starts annotation-free.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for messageID := range s.byMessage {
		if len(s.byMessage[messageID]) > 0 {
			s.versions[messageID]++
		}
	}
	s.byMessage = make(map[string][]Annotation)
}

// Version is a per-message counter that advances on every mutation of that
// message's set. Derived state (render segments) caches against it.
func (s *Store) Version(messageID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[messageID]
}
