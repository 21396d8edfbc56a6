// Package api provides the thin HTTP/WS glue that exercises the core:
// a chat endpoint, a WebSocket upgrade onto the event bus, a health
// check, and read-only debug endpoints over the memory/personality/
// telemetry subsystems' own stats methods.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sena-run/core/pkg/errs"
	"github.com/sena-run/core/pkg/events"
	"github.com/sena-run/core/pkg/memory"
	"github.com/sena-run/core/pkg/orchestrator"
	"github.com/sena-run/core/pkg/personality"
	"github.com/sena-run/core/pkg/registry"
	"github.com/sena-run/core/pkg/storage"
	"github.com/sena-run/core/pkg/telemetry"
)

// chatTimeout bounds one /api/chat request end to end.
const chatTimeout = 2 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the orchestrator and its supporting components onto a
// gin.Engine.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	fanout       *events.Fanout
	store        *storage.Store
	registry     *registry.Registry
	telemetry    *telemetry.Collector
	personality  *personality.Manager
	longTerm     *memory.LongTermMemory
	classifier   *errs.Classifier
}

// New builds a Server from its dependencies.
func New(orch *orchestrator.Orchestrator, fanout *events.Fanout, store *storage.Store, reg *registry.Registry, tel *telemetry.Collector, pers *personality.Manager, longTerm *memory.LongTermMemory, classifier *errs.Classifier) *Server {
	return &Server{
		orchestrator: orch,
		fanout:       fanout,
		store:        store,
		registry:     reg,
		telemetry:    tel,
		personality:  pers,
		longTerm:     longTerm,
		classifier:   classifier,
	}
}

// Fanout exposes the event fanout so tests and callers outside this
// package can broadcast without reaching into unexported fields.
func (s *Server) Fanout() *events.Fanout { return s.fanout }

// Router builds the gin.Engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWS)

	apiGroup := r.Group("/api")
	apiGroup.POST("/chat", s.handleChat)
	apiGroup.GET("/debug/settings", s.handleDebugSettings)
	apiGroup.GET("/debug/telemetry", s.handleDebugTelemetry)
	apiGroup.GET("/debug/personality", s.handleDebugPersonality)
	apiGroup.GET("/debug/memory", s.handleDebugMemory)

	return r
}

// chatRequest is the POST /api/chat request body.
type chatRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Stream    bool   `json:"stream"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), chatTimeout)
	defer cancel()

	onToken := func(content string, isFinal bool) {
		s.fanout.Broadcast(events.KindTokenEmitted, events.TokenEmitted{
			Content:   content,
			IsFinal:   isFinal,
			Timestamp: time.Now().UTC(),
		})
	}

	conversation, err := s.orchestrator.Process(ctx, req.SessionID, req.Message, req.Stream, onToken)
	if err != nil {
		s.respondError(c, err, map[string]any{"session_id": req.SessionID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": conversation.SessionID,
		"reply":      conversation.AssistantReply,
		"model":      conversation.ModelUsed,
		"intent":     conversation.Intent,
	})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client, err := s.fanout.Connect(conn)
	if err != nil {
		_ = conn.Close()
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.fanout.Disconnect(client.ID)
			return
		}
		s.handleWSControlMessage(client.ID, msg)
	}
}

func (s *Server) handleWSControlMessage(clientID string, msg []byte) {
	channels := parseSubscribeMessage(msg)
	if channels != nil {
		s.fanout.Subscribe(clientID, channels)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	storageStats := s.store.Stats()
	registryHealth := s.registry.HealthCheck(c.Request.Context())

	healthy := true
	for _, ok := range registryHealth {
		if !ok {
			healthy = false
		}
	}

	status := http.StatusOK
	statusText := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	c.JSON(status, gin.H{
		"status":      statusText,
		"storage":     storageStats,
		"models":      registryHealth,
		"connections": s.fanout.ConnectionCount(),
	})
}

func (s *Server) handleDebugSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.registry.Stats()})
}

func (s *Server) handleDebugTelemetry(c *gin.Context) {
	c.JSON(http.StatusOK, s.telemetry.Stats())
}

func (s *Server) handleDebugPersonality(c *gin.Context) {
	stats, err := s.personality.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleDebugMemory(c *gin.Context) {
	stats, err := s.longTerm.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) respondError(c *gin.Context, err error, errCtx map[string]any) {
	envelope := s.classifier.Classify(err, errCtx)
	c.JSON(envelope.StatusCode(), envelope)
}
