package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	// pingAfter is how long a connection may be quiet before the client
	// sends a ping.
	pingAfter = 10 * time.Second

	// disconnectAfter is how long either side waits without hearing
	// anything before giving up on the connection.
	disconnectAfter = 120 * time.Second

	// heartbeatCheckAt is how often idle time is checked.
	heartbeatCheckAt = 20 * time.Second

	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second

	// clientFrameLimit caps frames sent by clients. They only ever send
	// pings.
	clientFrameLimit = 4096
)

// Handler serves the realtime WebSocket. The request context must carry
// the caller's identity (see identity.NewContext); the connection only
// ever receives that identity's updates.
type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

// NewHandler returns a handler streaming from hub.
func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	// Subscriptions outlive the server's request timeouts.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("realtime: websocket accept failed", slog.String("error", err.Error()))
		return
	}

	conn.SetReadLimit(clientFrameLimit)

	h.logger.Debug("realtime: subscriber connected", slog.String("identity", id.Key()))

	err = h.serve(r.Context(), conn, id)

	h.logger.Debug("realtime: subscriber disconnected",
		slog.String("identity", id.Key()),
		slog.String("reason", err.Error()),
	)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, id identity.Identity) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, unsubscribe := h.hub.Subscribe(id.Key())
	defer unsubscribe()

	var lastMessage atomic.Int64
	lastMessage.Store(time.Now().UnixNano())

	pings := make(chan struct{}, 1)
	readErr := make(chan error, 1)

	go func() {
		defer cancel()

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}

			lastMessage.Store(time.Now().UnixNano())

			if typ == websocket.MessageText && gjson.GetBytes(data, "op").Str == OpPing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")

			select {
			case err := <-readErr:
				return err
			default:
				return ctx.Err()
			}

		case rec := <-updates:
			if err := writeEvent(ctx, conn, UpdateEvent(rec)); err != nil {
				conn.Close(websocket.StatusInternalError, "write failed")
				return err
			}

		case <-pings:
			if err := writeEvent(ctx, conn, Event{Op: OpPong}); err != nil {
				conn.Close(websocket.StatusInternalError, "write failed")
				return err
			}

		case <-ticker.C:
			if time.Since(time.Unix(0, lastMessage.Load())) > disconnectAfter {
				conn.Close(websocket.StatusGoingAway, "timeout")
				return fmt.Errorf("heartbeat timeout")
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	return nil
}
