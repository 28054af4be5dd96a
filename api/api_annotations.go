// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/selection"
	"github.com/marginalia-chat/marginalia/session"
)

type selectionResolveRequest struct {
	Snapshot selection.Snapshot `json:"snapshot"`
	Range    selection.Range    `json:"range"`
}

// handleSelectionResolve maps a serialized DOM selection onto rune offsets.
// Unmappable or collapsed selections resolve to a null offsets body, never
// an error: the browser treats them as "clear pending selection".
func (a *API) handleSelectionResolve(c *gin.Context) {
	var req selectionResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	offsets := selection.Resolve(req.Snapshot, req.Range)
	if a.metrics != nil {
		outcome := "resolved"
		if offsets == nil {
			outcome = "unmappable"
		}
		a.metrics.IncrementSelectionResolutions(outcome)
	}

	c.JSON(http.StatusOK, gin.H{"offsets": offsets})
}

// sessionResponse is the wire shape of a session snapshot; states go out as
// strings so the client does not depend on enum ordering.
type sessionResponse struct {
	State           string           `json:"state"`
	Generation      uint64           `json:"generation"`
	Range           *session.Range   `json:"range,omitempty"`
	Position        session.Position `json:"position"`
	NoteText        string           `json:"noteText"`
	SelectedSnippet string           `json:"selectedSnippet"`
	EditingID       string           `json:"editingId,omitempty"`
}

func toSessionResponse(s session.Snapshot) sessionResponse {
	return sessionResponse{
		State:           s.State.String(),
		Generation:      s.Generation,
		Range:           s.Range,
		Position:        s.Position,
		NoteText:        s.NoteText,
		SelectedSnippet: s.SelectedSnippet,
		EditingID:       s.EditingID,
	}
}

func (a *API) observeSessionState(s session.Snapshot) {
	if a.metrics != nil {
		a.metrics.IncrementSessionTransitions(s.State.String())
	}
}

func (a *API) handleSessionBegin(c *gin.Context) {
	token := a.session.Begin()
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type sessionProposeRequest struct {
	Token           uint64           `json:"token"`
	Unmappable      bool             `json:"unmappable"`
	MessageID       string           `json:"messageId"`
	Start           int              `json:"start"`
	End             int              `json:"end"`
	SelectedSnippet string           `json:"selectedSnippet"`
	Position        session.Position `json:"position"`
}

func (a *API) handleSessionPropose(c *gin.Context) {
	var req sessionProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	var snapshot session.Snapshot
	if req.Unmappable {
		snapshot = a.session.ProposeUnmappable(req.Token)
	} else {
		snapshot = a.session.ProposeRange(req.Token, req.MessageID, req.Start, req.End, req.SelectedSnippet, req.Position)
	}

	a.observeSessionState(snapshot)
	c.JSON(http.StatusOK, toSessionResponse(snapshot))
}

func (a *API) handleSessionCompose(c *gin.Context) {
	snapshot := a.session.Compose()
	a.observeSessionState(snapshot)
	c.JSON(http.StatusOK, toSessionResponse(snapshot))
}

type sessionCommitRequest struct {
	NoteText string `json:"noteText"`
}

func (a *API) handleSessionCommit(c *gin.Context) {
	var req sessionCommitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	editing := a.session.Current().EditingID != ""
	committed, snapshot := a.session.Commit(req.NoteText)
	if a.metrics != nil && committed != nil {
		if editing {
			a.metrics.IncrementAnnotationUpdates()
		} else {
			a.metrics.IncrementAnnotationCreates()
		}
	}

	a.observeSessionState(snapshot)
	c.JSON(http.StatusOK, gin.H{
		"annotation": committed,
		"session":    toSessionResponse(snapshot),
	})
}

func (a *API) handleSessionDiscard(c *gin.Context) {
	editing := a.session.Current().EditingID != ""
	snapshot := a.session.Discard()
	if a.metrics != nil && editing {
		a.metrics.IncrementAnnotationDeletes()
	}

	a.observeSessionState(snapshot)
	c.JSON(http.StatusOK, toSessionResponse(snapshot))
}

func (a *API) handleSessionCancel(c *gin.Context) {
	snapshot := a.session.Cancel()
	a.observeSessionState(snapshot)
	c.JSON(http.StatusOK, toSessionResponse(snapshot))
}

type openAnnotationRequest struct {
	Position session.Position `json:"position"`
}

func (a *API) handleOpenAnnotation(c *gin.Context) {
	var req openAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}

	snapshot := a.session.OpenAnnotation(c.Param("annotationID"), req.Position)
	a.observeSessionState(snapshot)
	c.JSON(http.StatusOK, toSessionResponse(snapshot))
}

// handleDeleteAnnotation removes an annotation directly, outside a session.
// Unknown ids are a no-op, not an error.
func (a *API) handleDeleteAnnotation(c *gin.Context) {
	id := c.Param("annotationID")
	_, known := a.annotations.Get(id)
	a.annotations.Delete(id)
	if a.metrics != nil && known {
		a.metrics.IncrementAnnotationDeletes()
	}

	c.Status(http.StatusNoContent)
}

func (a *API) handleGetAnnotations(c *gin.Context) {
	anns := a.annotations.ForMessage(c.Param("messageID"))
	if anns == nil {
		anns = []annotation.Annotation{}
	}
	c.JSON(http.StatusOK, gin.H{"annotations": anns})
}

// handleGetSegments renders the message's plain text partitioned into plain
// and annotated runs, memoized against the store version and text hash.
func (a *API) handleGetSegments(c *gin.Context) {
	messageID := c.Param("messageID")

	text, ok := a.conversations.LookupPlainText(messageID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	segs := a.segments.Segments(messageID, a.annotations.Version(messageID), text, a.annotations.ForMessage(messageID))
	c.JSON(http.StatusOK, gin.H{"segments": segs})
}
