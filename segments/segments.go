// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package segments partitions a message's plain text into render segments:
// an ordered, non-overlapping sequence where each piece is either plain or
// tagged with exactly one annotation. Overlaps between annotations are
// resolved before partitioning — the earlier-starting annotation wins and
// later overlappers are truncated or dropped.
package segments

import (
	"sort"

	"github.com/marginalia-chat/marginalia/annotation"
)

// Segment is a contiguous slice of a message's text, tagged with at most one
// annotation. Derived state: never stored, always recomputed from
// (plain text, annotation set).
type Segment struct {
	Text       string                 `json:"text"`
	Annotation *annotation.Annotation `json:"annotation,omitempty"`
}

// Build partitions text into segments for the given annotations. The
// concatenation of the returned segments' texts equals text exactly; output
// ranges cover [0, len) with no gaps or overlaps. Annotations whose offsets
// run past the text clamp to its end; annotations fully behind the cursor
// are dropped.
func Build(text string, anns []annotation.Annotation) []Segment {
	runes := []rune(text)

	sorted := make([]annotation.Annotation, len(anns))
	copy(sorted, anns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	var out []Segment
	cursor := 0
	for i := range sorted {
		ann := sorted[i]

		end := ann.End
		if end > len(runes) {
			end = len(runes)
		}
		if end <= cursor {
			// Fully subsumed by earlier output; the earlier-starting
			// annotation already claimed these characters.
			continue
		}

		effectiveStart := ann.Start
		if effectiveStart < cursor {
			effectiveStart = cursor
		}
		if effectiveStart >= end {
			// Entirely past the end of the text.
			continue
		}
		if effectiveStart > cursor {
			out = append(out, Segment{Text: string(runes[cursor:effectiveStart])})
		}

		tagged := ann
		out = append(out, Segment{
			Text:       string(runes[effectiveStart:end]),
			Annotation: &tagged,
		})
		cursor = end
	}

	if cursor < len(runes) {
		out = append(out, Segment{Text: string(runes[cursor:])})
	}

	return out
}
