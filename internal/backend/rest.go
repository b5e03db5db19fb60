package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ramory-l/matchsocket/internal/devtoken"
)

const userIDKey = "user_id"

func (b *Backend) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(b.logRequests())

	engine.Any("/socket.io/*any", gin.WrapH(b.Server))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": b.Sessions(), "peak": b.PeakConnections()})
	})

	api := engine.Group("/api")
	api.Use(b.requireAuth())
	{
		api.GET("/chat/:matchId/messages", b.listMessages)
		api.POST("/chat/:matchId/messages", b.postMessage)
	}

	return engine
}

// logRequests logs finished API requests through the backend logger
func (b *Backend) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if strings.HasPrefix(c.Request.URL.Path, "/socket.io/") {
			return
		}
		b.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// requireAuth resolves the caller from the bearer token. Without a secret
// the X-User-ID header is trusted instead.
func (b *Backend) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if b.cfg.Secret == "" {
			c.Set(userIDKey, c.GetHeader("X-User-ID"))
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		userID, err := devtoken.Verify(b.cfg.Secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func (b *Backend) listMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": b.store.List(c.Param("matchId"))})
}

type postMessageRequest struct {
	Content     string `json:"content" binding:"required"`
	MessageType string `json:"messageType"`
	SenderID    string `json:"senderId"`
}

func (b *Backend) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sender := c.GetString(userIDKey)
	if sender == "" {
		sender = req.SenderID
	}
	if sender == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sender unknown"})
		return
	}

	m := b.store.Add(c.Param("matchId"), sender, req.Content, req.MessageType)
	if err := b.To(m.MatchID).Emit(EventNewMessage, m); err != nil {
		b.logger.Warn().Err(err).Str("matchID", m.MatchID).Msg("failed to broadcast message")
	}

	c.JSON(http.StatusCreated, m)
}
