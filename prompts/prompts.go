// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

// Package prompts renders the outbound prompt payloads from embedded
// templates: the system prompt for each assistant and the user prompt that
// pairs annotated excerpts with the user's free-text question.
package prompts

import (
	"embed"
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/llm"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Convenience vars for the template filenames in templates/
const (
	PromptAnnotatedPromptUser = "annotated_prompt_user"
	PromptChatSystem          = "chat_system"
)

// Snippets longer than this are truncated for display in the prompt; the
// annotation itself keeps the full text.
const maxSnippetRunes = 200

// PlainTextLookup resolves a message id to its plain text, used when an
// annotation carries no cached snippet.
type PlainTextLookup func(messageID string) (string, bool)

type Formatter struct {
	templates *template.Template
}

func NewFormatter() (*Formatter, error) {
	tmpl, err := template.New("prompts").ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse prompt templates")
	}
	return &Formatter{templates: tmpl}, nil
}

type promptEntry struct {
	Index   int
	Snippet string
	Note    string
}

type userPromptData struct {
	Entries  []promptEntry
	UserText string
}

type systemPromptData struct {
	AssistantName      string
	Time               string
	CustomInstructions string
}

// Format serializes the current annotation set plus the user's free text
// into a single outbound payload. An empty result means there is nothing to
// send and the caller must not perform the request. Pure; no side effects.
func (f *Formatter) Format(userText string, anns []annotation.Annotation, plainText PlainTextLookup) (string, error) {
	userText = strings.TrimSpace(userText)
	if len(anns) == 0 && userText == "" {
		return "", nil
	}

	sorted := make([]annotation.Annotation, len(anns))
	copy(sorted, anns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	entries := make([]promptEntry, 0, len(sorted))
	for i, a := range sorted {
		var text string
		if plainText != nil {
			text, _ = plainText(a.MessageID)
		}
		note := a.NoteText
		if strings.TrimSpace(note) == "" {
			note = "(no note)"
		}
		entries = append(entries, promptEntry{
			Index:   i + 1,
			Snippet: truncateRunes(a.DisplaySnippet(text), maxSnippetRunes),
			Note:    note,
		})
	}

	var b strings.Builder
	err := f.templates.ExecuteTemplate(&b, PromptAnnotatedPromptUser+".tmpl", userPromptData{
		Entries:  entries,
		UserText: userText,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to render user prompt")
	}

	return strings.TrimSpace(b.String()), nil
}

// FormatSystem renders the assistant's system prompt from the LLM context.
func (f *Formatter) FormatSystem(ctx *llm.Context) (string, error) {
	data := systemPromptData{
		AssistantName:      "the assistant",
		Time:               "",
		CustomInstructions: "",
	}
	if ctx != nil {
		if ctx.AssistantName != "" {
			data.AssistantName = ctx.AssistantName
		}
		data.Time = ctx.Time
		data.CustomInstructions = ctx.CustomInstructions
	}

	var b strings.Builder
	if err := f.templates.ExecuteTemplate(&b, PromptChatSystem+".tmpl", data); err != nil {
		return "", errors.Wrap(err, "failed to render system prompt")
	}
	return strings.TrimSpace(b.String()), nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
