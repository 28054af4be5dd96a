// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package segments

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/marginalia-chat/marginalia/annotation"
)

// Cache memoizes Build results per message. An entry is reused only while
// both the store version and the text hash match, so segments are recomputed
// exactly when their inputs change.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	version  uint64
	textHash uint64
	segments []Segment
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
	}
}

// Segments returns the render segments for a message, rebuilding only when
// the (version, text) pair differs from the cached one.
func (c *Cache) Segments(messageID string, version uint64, text string, anns []annotation.Annotation) []Segment {
	hash := xxhash.Sum64String(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[messageID]; ok && entry.version == version && entry.textHash == hash {
		return entry.segments
	}

	segs := Build(text, anns)
	c.entries[messageID] = cacheEntry{
		version:  version,
		textHash: hash,
		segments: segs,
	}
	return segs
}

// Invalidate drops the cached entry for a message.
func (c *Cache) Invalidate(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, messageID)
}
