package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"veltrix/internal/auth"
	"veltrix/internal/events"
)

// EventsHandler streams the caller's lifecycle events over a websocket.
// Inbound messages are ignored.
type EventsHandler struct {
	Bus            events.Bus
	Logger         *zap.Logger
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

func (h *EventsHandler) Register(r gin.IRouter) {
	r.GET("/events", h.stream)
}

// @Summary Live strategy lifecycle events
// @Description Websocket upgrade. Browsers pass the token as access_token.
// @Tags events
// @Security BearerAuth
// @Success 101
// @Router /api/v1/events [get]
func (h *EventsHandler) stream(c *gin.Context) {
	if h.Bus == nil {
		Error(c, http.StatusServiceUnavailable, "event stream unavailable", nil)
		return
	}
	owner := auth.Owner(c)
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket accept failed", zap.Error(err))
		}
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	ch, cancel, err := h.Bus.Subscribe(ctx, owner)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cancel()

	ping := h.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.withTimeout(ctx, conn.Ping); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			err = h.withTimeout(ctx, func(ctx context.Context) error {
				return conn.Write(ctx, websocket.MessageText, payload)
			})
			if err != nil {
				if h.Logger != nil && !errors.Is(err, context.Canceled) {
					h.Logger.Debug("websocket write failed", zap.String("user_id", owner), zap.Error(err))
				}
				return
			}
		}
	}
}

func (h *EventsHandler) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	d := h.WriteTimeout
	if d <= 0 {
		d = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
