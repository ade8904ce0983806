package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Server exposes the council over HTTP.
type Server struct {
	Council    *Council
	Store      ConversationStore
	References *ReferenceFetcher
}

// NewRouter wires middleware and routes.
func NewRouter(s *Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	// Request size limit middleware
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)
		c.Next()
	})

	router.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/", s.healthCheck)
	router.GET("/api/conversations", s.listConversationsHandler)
	router.POST("/api/conversations", s.createConversationHandler)
	router.GET("/api/conversations/:id", s.getConversationHandler)
	router.POST("/api/conversations/:id/message", s.sendMessageHandler)
	router.POST("/api/conversations/:id/message/stream", s.sendMessageStreamHandler)
	router.GET("/api/conversations/:id/ws", s.websocketHandler)
	router.POST("/api/fetch-url", s.fetchURLHandler)

	return router
}

// allowOrigin accepts configured origins, or any localhost origin when none are configured.
func allowOrigin(origin string) bool {
	if len(CORSAllowedOrigins) > 0 {
		for _, allowedOrigin := range CORSAllowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}
		return false
	}
	return strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("request handled")
	}
}

// healthCheck returns a simple health check response.
// GET / - Returns service status information.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "LLM Council API",
	})
}

// listConversationsHandler lists all conversations with metadata only.
// GET /api/conversations - Returns array of conversation metadata sorted by date.
func (s *Server) listConversationsHandler(c *gin.Context) {
	conversations, err := s.Store.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to list conversations: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversations)
}

// createConversationHandler creates a new conversation.
// POST /api/conversations - Generates a new UUID and creates an empty conversation.
func (s *Server) createConversationHandler(c *gin.Context) {
	conversation, err := s.Store.CreateConversation(c.Request.Context(), uuid.New().String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to create conversation: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// getConversationHandler gets a specific conversation by ID.
// GET /api/conversations/:id - Returns full conversation including all messages.
func (s *Server) getConversationHandler(c *gin.Context) {
	conversation, ok := s.lookupConversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// lookupConversation writes the error response itself when the conversation
// cannot be returned.
func (s *Server) lookupConversation(c *gin.Context) (*Conversation, bool) {
	conversation, err := s.Store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to get conversation: %v", err),
		})
		return nil, false
	}
	if conversation == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Conversation not found",
		})
		return nil, false
	}
	return conversation, true
}

// sendMessageHandler runs the 3-stage council process and returns the final message.
// POST /api/conversations/:id/message - Use the /stream variant for incremental stage events.
func (s *Server) sendMessageHandler(c *gin.Context) {
	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	msg, err := s.Council.RunTurn(c.Request.Context(), TurnRequest{
		ConversationID: c.Param("id"),
		Content:        request.Content,
		References:     request.References,
	}, nil)
	if err != nil {
		status := turnErrorStatus(err)
		body := gin.H{"error": fmt.Sprintf("Council process failed: %v", err)}
		if msg != nil {
			body["message"] = msg
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, msg)
}

func turnErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case IsFatal(err):
		return http.StatusBadGateway
	case IsCancellation(err):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// sendMessageStreamHandler runs a turn and streams its events via SSE.
// POST /api/conversations/:id/message/stream
// Events: stage1_start, stage1_complete, stage2_start, stage2_complete,
// stage3_start, stage3_complete, title_complete, complete, error.
func (s *Server) sendMessageStreamHandler(c *gin.Context) {
	var request SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if _, ok := s.lookupConversation(c); !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	sink := EventSinkFunc(func(ctx context.Context, ev Event) error {
		return sendSSEEvent(c, ev)
	})

	_, err := s.Council.RunTurn(c.Request.Context(), TurnRequest{
		ConversationID: c.Param("id"),
		Content:        request.Content,
		References:     request.References,
	}, sink)
	// Failures after the turn started were already streamed as an error event
	if err != nil && errors.Is(err, ErrConversationNotFound) {
		sendSSEError(c, err.Error())
	}
}

// sendSSEEvent writes data as one Server-Sent Event with a "data: " prefix.
func sendSSEEvent(c *gin.Context, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// sendSSEError sends an error event via SSE.
func sendSSEError(c *gin.Context, message string) {
	if err := sendSSEEvent(c, gin.H{"type": EventError, "message": message}); err != nil {
		log.Warnf("Failed to send SSE error: %v", err)
	}
}

// fetchURLHandler fetches and extracts content from a given URL
// POST /api/fetch-url - Body: {"url": "https://..."}
func (s *Server) fetchURLHandler(c *gin.Context) {
	var request struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	ref, err := s.References.Fetch(c.Request.Context(), request.URL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": fmt.Sprintf("Failed to fetch URL content: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, ref)
}
