package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lexsynclab/lexsync/backend/internal/poke"
	"github.com/lexsynclab/lexsync/backend/internal/protocol"
	"github.com/lexsynclab/lexsync/backend/internal/store"
	"go.uber.org/zap"
)

const userIDContextKey = "lexsync_user_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingPusher         = errors.New("push service dependency required")
	errMissingPuller         = errors.New("pull service dependency required")
	errMissingDispatcher     = errors.New("poke dispatcher dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns the authenticated user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the sync services.
type Dependencies struct {
	TokenValidator    TokenValidator
	Pusher            *protocol.Pusher
	Puller            *protocol.Puller
	Dispatcher        *poke.Dispatcher
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router exposing push, pull, and poke.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Pusher == nil {
		return nil, errMissingPusher
	}
	if deps.Puller == nil {
		return nil, errMissingPuller
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenValidator,
		pusher:     deps.Pusher,
		puller:     deps.Puller,
		dispatcher: deps.Dispatcher,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/push", handler.handlePush)
	protected.POST("/pull", handler.handlePull)
	protected.GET("/poke", handler.handlePoke)

	return router, nil
}

type httpHandler struct {
	tokens     TokenValidator
	pusher     *protocol.Pusher
	puller     *protocol.Puller
	dispatcher *poke.Dispatcher
	heartbeat  time.Duration
	logger     *zap.Logger
}

func (h *httpHandler) handlePush(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request protocol.PushRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ClientGroupID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.pusher.Push(c.Request.Context(), userID, request); err != nil {
		h.logger.Error("failed to process push", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

func (h *httpHandler) handlePull(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request protocol.PullRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ClientGroupID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	response, err := h.puller.Pull(c.Request.Context(), userID, request)
	if err != nil {
		if errors.Is(err, store.ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		h.logger.Error("failed to process pull", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pull_failed"})
		return
	}

	c.JSON(http.StatusOK, response)
}

// authorizeRequest accepts the bearer token from the Authorization header or,
// for EventSource connections that cannot set headers, from the access_token
// query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
