// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package selection maps browser text selections onto character offsets.
//
// The browser serializes the annotatable container as a Snapshot: a tree of
// nodes in document order where leaves carry text. A native selection arrives
// as a Range of two Anchors, each a node reference plus an offset. Resolve
// converts that pair into rune offsets into the container's flattened text,
// the coordinate space all annotations live in.
package selection

// Node is one node of the annotatable container. A node is an element when
// it carries children or the Element flag; otherwise it is a text node. The
// flag lets serializers represent childless elements, which JSON would
// otherwise make indistinguishable from empty text nodes.
type Node struct {
	ID       string `json:"id"`
	Text     string `json:"text,omitempty"`
	Children []Node `json:"children,omitempty"`
	Element  bool   `json:"element,omitempty"`
}

// Snapshot is a point-in-time projection of the rendered message container.
type Snapshot struct {
	Root Node `json:"root"`
}

// Anchor references a position inside the snapshot: an offset within a text
// node's text, or a child index within an element node. Offsets count runes.
type Anchor struct {
	NodeID string `json:"nodeId"`
	Offset int    `json:"offset"`
}

// Range is the serialized form of a browser selection range. Start may come
// after End in document order (backward drag); Resolve normalizes.
type Range struct {
	Start Anchor `json:"start"`
	End   Anchor `json:"end"`
}

// Offsets is a resolved half-open range [Start, End) into the flattened text.
type Offsets struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Resolve maps a selection range to offsets into the snapshot's flattened
// text. It returns nil when the range is collapsed after mapping or when an
// anchor cannot be located in the snapshot; callers treat nil as "no
// selection". Resolve is a pure function and never panics on odd input.
func Resolve(snapshot Snapshot, r Range) *Offsets {
	start, okStart := anchorPosition(snapshot.Root, r.Start)
	end, okEnd := anchorPosition(snapshot.Root, r.End)
	if !okStart || !okEnd {
		return nil
	}

	if start > end {
		start, end = end, start
	}
	if start == end {
		return nil
	}

	return &Offsets{Start: start, End: end}
}

// PlainText returns the snapshot's text nodes concatenated in document order.
func (s Snapshot) PlainText() string {
	return flatten(s.Root)
}

func flatten(n Node) string {
	if n.isText() {
		return n.Text
	}
	out := ""
	for _, child := range n.Children {
		out += flatten(child)
	}
	return out
}

func (n Node) isText() bool {
	return !n.Element && n.Children == nil
}

// anchorPosition walks the tree in document order looking for the anchor's
// node, accumulating the rune length of text passed over. The second return
// reports whether the node was found.
func anchorPosition(root Node, a Anchor) (int, bool) {
	pos, _, found := walk(root, a, 0)
	return pos, found
}

// walk returns (position, rune length of subtree, found). prefix is the rune
// count of all text preceding this subtree in document order.
func walk(n Node, a Anchor, prefix int) (int, int, bool) {
	if n.isText() {
		length := runeLen(n.Text)
		if n.ID == a.NodeID {
			return prefix + clamp(a.Offset, 0, length), length, true
		}
		return 0, length, false
	}

	if n.ID == a.NodeID {
		// Element anchor: the offset is a child index meaning "before child
		// N". Resolve to the flattened start of that child, clamped into the
		// element's range so boundary anchors never fail.
		idx := clamp(a.Offset, 0, len(n.Children))
		pos := prefix
		for i := 0; i < idx; i++ {
			pos += runeLen(flatten(n.Children[i]))
		}
		return pos, subtreeLen(n), true
	}

	length := 0
	for _, child := range n.Children {
		pos, childLen, found := walk(child, a, prefix+length)
		if found {
			return pos, 0, true
		}
		length += childLen
	}
	return 0, length, false
}

func subtreeLen(n Node) int {
	return runeLen(flatten(n))
}

func runeLen(s string) int {
	return len([]rune(s))
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
