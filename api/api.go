// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marginalia-chat/marginalia/annotation"
	"github.com/marginalia-chat/marginalia/conversations"
	"github.com/marginalia-chat/marginalia/i18n"
	"github.com/marginalia-chat/marginalia/logger"
	"github.com/marginalia-chat/marginalia/metrics"
	"github.com/marginalia-chat/marginalia/segments"
	"github.com/marginalia-chat/marginalia/session"
	"github.com/marginalia-chat/marginalia/streaming"
)

type API struct {
	engine           *gin.Engine
	conversations    *conversations.Conversations
	annotations      *annotation.Store
	segments         *segments.Cache
	session          *session.Manager
	streamingService streaming.Service
	metrics          metrics.Metrics
	log              logger.Logger
	i18n             *i18n.Bundle
}

func New(
	conversationsService *conversations.Conversations,
	annotations *annotation.Store,
	segmentCache *segments.Cache,
	sessionManager *session.Manager,
	streamingService streaming.Service,
	m metrics.Metrics,
	log logger.Logger,
	bundle *i18n.Bundle,
) *API {
	a := &API{
		conversations:    conversationsService,
		annotations:      annotations,
		segments:         segmentCache,
		session:          sessionManager,
		streamingService: streamingService,
		metrics:          m,
		log:              log,
		i18n:             bundle,
	}

	engine := gin.New()
	engine.Use(a.ginLogger())
	engine.Use(a.metricsMiddleware())

	engine.GET("/health", a.handleHealth)
	if m != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")

	conversationsRouter := v1.Group("/conversations")
	conversationsRouter.POST("", a.handleCreateConversation)
	conversationsRouter.GET("/:conversationID", a.handleGetConversation)
	conversationsRouter.POST("/:conversationID/messages", a.handleSendMessage)
	conversationsRouter.POST("/:conversationID/stop", a.handleStopStreaming)

	v1.POST("/selection/resolve", a.handleSelectionResolve)

	sessionRouter := v1.Group("/session")
	sessionRouter.POST("/begin", a.handleSessionBegin)
	sessionRouter.POST("/propose", a.handleSessionPropose)
	sessionRouter.POST("/compose", a.handleSessionCompose)
	sessionRouter.POST("/commit", a.handleSessionCommit)
	sessionRouter.POST("/discard", a.handleSessionDiscard)
	sessionRouter.POST("/cancel", a.handleSessionCancel)

	v1.POST("/annotations/:annotationID/open", a.handleOpenAnnotation)
	v1.DELETE("/annotations/:annotationID", a.handleDeleteAnnotation)
	v1.GET("/messages/:messageID/annotations", a.handleGetAnnotations)
	v1.GET("/messages/:messageID/segments", a.handleGetSegments)

	a.engine = engine
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.engine.ServeHTTP(w, r)
}

// localizer returns the translation function for the request's locale.
func (a *API) localizer(c *gin.Context) func(id, defaultMessage string, templateData ...any) string {
	return i18n.LocalizerFunc(a.i18n, c.GetHeader("Accept-Language"))
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Debug("Handled HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (a *API) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.metrics == nil {
			c.Next()
			return
		}

		a.metrics.IncrementHTTPRequests()
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			a.metrics.IncrementHTTPErrors()
		}

		a.metrics.ObserveAPIEndpointDuration(
			c.FullPath(),
			c.Request.Method,
			strconv.Itoa(status),
			time.Since(start).Seconds(),
		)
	}
}
