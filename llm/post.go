// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

// PostRole identifies who authored a post in a completion request.
type PostRole int

const (
	PostRoleUser PostRole = iota
	PostRoleBot
	PostRoleSystem
)

// Post is a single role-tagged message in the conversation sent to a model.
type Post struct {
	Role    PostRole
	Message string
}

// CompletionRequest bundles the conversation and its context for one request.
type CompletionRequest struct {
	Posts   []Post
	Context *Context
}
