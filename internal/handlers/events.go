package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"frameworks/sextant/pkg/logging"
	"frameworks/sextant/pkg/middleware"
)

const (
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to write a control message to the peer
	writeWait = 10 * time.Second

	// Maximum voice payload size
	maxEventSize = 16 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PostEvent handles POST /events with a raw voice-session payload.
func (h *Handlers) PostEvent(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(payload) > maxEventSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}
	if err := h.host.VoiceUpdate(c.Request.Context(), payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// EventStream handles GET /events/ws. Every text or binary message is one
// voice-session payload. Nothing is written back except pings.
func (h *Handlers) EventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}
	log := middleware.GetContextLogger(c, h.logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.pingLoop(ctx, conn)

	conn.SetReadLimit(maxEventSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	received := 0
	defer func() {
		conn.Close()
		log.WithField("events", received).Info("Voice event stream closed")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("Voice event stream error")
			}
			return
		}
		received++
		if err := h.host.VoiceUpdate(ctx, message); err != nil {
			log.WithFields(logging.Fields{"error": err.Error()}).Warn("Voice update rejected by host")
		}
	}
}

func (h *Handlers) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
