// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/logger"
)

const messageText = "The quick brown fox"

func newManager(t *testing.T) (*Manager, *annotation.Store) {
	t.Helper()
	store := annotation.NewStore()
	lookup := func(messageID string) (string, bool) {
		if messageID == "m1" {
			return messageText, true
		}
		return "", false
	}
	return NewManager(store, lookup, logger.NewNop()), store
}

func TestProposeRange(t *testing.T) {
	t.Run("fresh selection lands in RangeSelected", func(t *testing.T) {
		m, _ := newManager(t)
		token := m.Begin()

		snap := m.ProposeRange(token, "m1", 4, 9, "quick", Position{X: 10, Y: 20})
		assert.Equal(t, StateRangeSelected, snap.State)
		require.NotNil(t, snap.Range)
		assert.Equal(t, 4, snap.Range.Start)
		assert.Equal(t, 9, snap.Range.End)
		assert.Equal(t, "quick", snap.SelectedSnippet)
		assert.Empty(t, snap.EditingID)
	})

	t.Run("overlapping selection jumps to Composing in edit mode", func(t *testing.T) {
		m, store := newManager(t)
		existing, err := store.Insert("m1", 4, 9, "typo?", "quick")
		require.NoError(t, err)

		token := m.Begin()
		snap := m.ProposeRange(token, "m1", 6, 12, "ick br", Position{})

		assert.Equal(t, StateComposing, snap.State)
		assert.Equal(t, existing.ID, snap.EditingID)
		assert.Equal(t, "typo?", snap.NoteText)
		assert.Equal(t, "quick", snap.SelectedSnippet)
		// Range reconstructed from the stored annotation, not the new drag.
		require.NotNil(t, snap.Range)
		assert.Equal(t, 4, snap.Range.Start)
		assert.Equal(t, 9, snap.Range.End)
	})

	t.Run("stale token is discarded silently", func(t *testing.T) {
		m, _ := newManager(t)
		stale := m.Begin()
		fresh := m.Begin()

		snap := m.ProposeRange(stale, "m1", 4, 9, "quick", Position{})
		assert.Equal(t, StateIdle, snap.State)

		snap = m.ProposeRange(fresh, "m1", 0, 3, "The", Position{})
		assert.Equal(t, StateRangeSelected, snap.State)
		assert.Equal(t, 0, snap.Range.Start)
	})

	t.Run("stale result never clobbers a newer one", func(t *testing.T) {
		m, _ := newManager(t)
		first := m.Begin()
		second := m.Begin()

		m.ProposeRange(second, "m1", 10, 15, "brown", Position{})
		snap := m.ProposeRange(first, "m1", 0, 3, "The", Position{})

		require.NotNil(t, snap.Range)
		assert.Equal(t, 10, snap.Range.Start)
		assert.Equal(t, 15, snap.Range.End)
	})

	t.Run("collapsed proposal clears to Idle", func(t *testing.T) {
		m, _ := newManager(t)
		token := m.Begin()
		m.ProposeRange(token, "m1", 4, 9, "quick", Position{})

		token = m.Begin()
		snap := m.ProposeRange(token, "m1", 5, 5, "", Position{})
		assert.Equal(t, StateIdle, snap.State)
		assert.Nil(t, snap.Range)
	})

	t.Run("unmappable proposal clears to Idle", func(t *testing.T) {
		m, _ := newManager(t)
		token := m.Begin()
		m.ProposeRange(token, "m1", 4, 9, "quick", Position{})

		snap := m.ProposeUnmappable(token)
		assert.Equal(t, StateIdle, snap.State)
	})
}

func TestComposeAndCommit(t *testing.T) {
	t.Run("create flow inserts on commit", func(t *testing.T) {
		m, store := newManager(t)
		token := m.Begin()
		m.ProposeRange(token, "m1", 4, 9, "quick", Position{})

		snap := m.Compose()
		assert.Equal(t, StateComposing, snap.State)

		committed, snap := m.Commit("typo?")
		require.NotNil(t, committed)
		assert.Equal(t, StateIdle, snap.State)

		anns := store.ForMessage("m1")
		require.Len(t, anns, 1)
		assert.Equal(t, 4, anns[0].Start)
		assert.Equal(t, 9, anns[0].End)
		assert.Equal(t, "typo?", anns[0].NoteText)
		assert.Equal(t, "quick", anns[0].Snippet)
	})

	t.Run("snippet falls back to plain-text slice", func(t *testing.T) {
		m, store := newManager(t)
		token := m.Begin()
		// No live snippet captured (e.g. selection collapsed before read).
		m.ProposeRange(token, "m1", 10, 15, "", Position{})
		m.Compose()

		committed, _ := m.Commit("nice")
		require.NotNil(t, committed)

		anns := store.ForMessage("m1")
		require.Len(t, anns, 1)
		assert.Equal(t, "brown", anns[0].Snippet)
	})

	t.Run("edit flow updates the existing annotation", func(t *testing.T) {
		m, store := newManager(t)
		existing, err := store.Insert("m1", 4, 9, "old", "quick")
		require.NoError(t, err)

		token := m.Begin()
		m.ProposeRange(token, "m1", 5, 8, "uic", Position{})

		committed, snap := m.Commit("new note")
		require.NotNil(t, committed)
		assert.Equal(t, existing.ID, committed.ID)
		assert.Equal(t, StateIdle, snap.State)

		anns := store.ForMessage("m1")
		require.Len(t, anns, 1)
		assert.Equal(t, "new note", anns[0].NoteText)
	})

	t.Run("commit outside Composing is a no-op", func(t *testing.T) {
		m, store := newManager(t)
		committed, snap := m.Commit("nothing")
		assert.Nil(t, committed)
		assert.Equal(t, StateIdle, snap.State)
		assert.Empty(t, store.ForMessage("m1"))
	})

	t.Run("compose outside RangeSelected is a no-op", func(t *testing.T) {
		m, _ := newManager(t)
		snap := m.Compose()
		assert.Equal(t, StateIdle, snap.State)
	})
}

func TestOpenAnnotation(t *testing.T) {
	t.Run("opens compose pre-filled from stored offsets", func(t *testing.T) {
		m, store := newManager(t)
		existing, err := store.Insert("m1", 4, 9, "typo?", "")
		require.NoError(t, err)

		snap := m.OpenAnnotation(existing.ID, Position{X: 5})
		assert.Equal(t, StateComposing, snap.State)
		assert.Equal(t, existing.ID, snap.EditingID)
		assert.Equal(t, "typo?", snap.NoteText)
		// Empty stored snippet re-slices live text.
		assert.Equal(t, "quick", snap.SelectedSnippet)
		require.NotNil(t, snap.Range)
		assert.Equal(t, 4, snap.Range.Start)
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		m, _ := newManager(t)
		snap := m.OpenAnnotation("nope", Position{})
		assert.Equal(t, StateIdle, snap.State)
	})

	t.Run("invalidates outstanding selection tokens", func(t *testing.T) {
		m, store := newManager(t)
		existing, err := store.Insert("m1", 4, 9, "", "")
		require.NoError(t, err)

		token := m.Begin()
		m.OpenAnnotation(existing.ID, Position{})

		// The deferred result from before the click must not clobber edit mode.
		snap := m.ProposeRange(token, "m1", 0, 3, "The", Position{})
		assert.Equal(t, StateComposing, snap.State)
		assert.Equal(t, existing.ID, snap.EditingID)
	})
}

func TestDiscardAndCancel(t *testing.T) {
	t.Run("discard deletes the edited annotation", func(t *testing.T) {
		m, store := newManager(t)
		existing, err := store.Insert("m1", 4, 9, "note", "quick")
		require.NoError(t, err)

		m.OpenAnnotation(existing.ID, Position{})
		snap := m.Discard()

		assert.Equal(t, StateIdle, snap.State)
		assert.Empty(t, store.ForMessage("m1"))
	})

	t.Run("discard without editing id is a no-op", func(t *testing.T) {
		m, store := newManager(t)
		token := m.Begin()
		m.ProposeRange(token, "m1", 4, 9, "quick", Position{})
		m.Compose()

		snap := m.Discard()
		assert.Equal(t, StateComposing, snap.State)
		assert.Empty(t, store.ForMessage("m1"))
	})

	t.Run("cancel clears from any state without touching the store", func(t *testing.T) {
		m, store := newManager(t)
		existing, err := store.Insert("m1", 4, 9, "note", "")
		require.NoError(t, err)

		m.OpenAnnotation(existing.ID, Position{})
		snap := m.Cancel()

		assert.Equal(t, StateIdle, snap.State)
		require.Len(t, store.ForMessage("m1"), 1)
		assert.Equal(t, "note", store.ForMessage("m1")[0].NoteText)
	})
}
