// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package plaintext projects markdown onto a flat string. Annotation offsets
// are only meaningful against a deterministic projection, so this is the
// single place the flattening rules live: inline markup contributes its text
// content, soft and hard line breaks become single newlines, code blocks
// keep their lines verbatim, and top-level blocks are separated by one blank
// line.
package plaintext

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Project flattens rendered markdown to the plain text annotations anchor
// to. The same input always yields the same output.
func Project(markdown string) string {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			switch node := n.(type) {
			case *ast.Text:
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			case *ast.String:
				b.Write(node.Value)
			case *ast.AutoLink:
				b.Write(node.URL(source))
			case *ast.FencedCodeBlock:
				writeLines(&b, node, source)
			case *ast.CodeBlock:
				writeLines(&b, node, source)
			}
			return ast.WalkContinue, nil
		}

		// One blank line between top-level blocks.
		if n.Type() == ast.TypeBlock {
			if _, isDoc := n.Parent().(*ast.Document); isDoc {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

func writeLines(b *strings.Builder, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(source))
	}
}
