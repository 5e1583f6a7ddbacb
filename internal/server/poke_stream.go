package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	pokeEventHello = "hello"
	pokeEventPoke  = "poke"
	pokeEventBeat  = "beat"
)

// handlePoke serves the server-sent-event invalidation stream for one
// channel. The stream carries no payload: "poke" only means the subscriber
// should pull. Heartbeats keep idle connections alive through proxies.
func (h *httpHandler) handlePoke(c *gin.Context) {
	channel := strings.TrimSpace(c.Query("channel"))
	if channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_channel"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream;charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	writeEvent(c, flusher, pokeEventHello)

	ctx := c.Request.Context()
	signal, unsubscribe := h.dispatcher.Subscribe(ctx, channel)
	defer unsubscribe()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	h.logger.Debug("poke stream opened", zap.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("poke stream closed", zap.String("channel", channel))
			return
		case <-signal:
			writeEvent(c, flusher, pokeEventPoke)
		case <-heartbeat.C:
			writeEvent(c, flusher, pokeEventBeat)
		}
	}
}

func writeEvent(c *gin.Context, flusher http.Flusher, data string) {
	fmt.Fprintf(c.Writer, "id: %d\n", time.Now().UnixMilli())
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	flusher.Flush()
}
