package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/client"
	"github.com/alexjbarnes/focus-sync/internal/document"
	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	// readLimit caps one inbound frame. Update frames carry a whole
	// document.
	readLimit = 16 * 1024 * 1024

	// inboundChanSize is the buffer between the reader goroutine and
	// the event loop.
	inboundChanSize = 16
)

// wsConn abstracts the WebSocket connection so the event loop can be
// tested without a real server. *websocket.Conn satisfies this
// interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// Client subscribes to the realtime channel of a focus-sync server.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a client for the server at baseURL (http or https).
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	u := strings.TrimRight(baseURL, "/")

	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	return &Client{url: u + client.RealtimePath, httpClient: httpClient, logger: logger}
}

// URL returns the WebSocket endpoint.
func (c *Client) URL() string { return c.url }

// Subscribe opens one connection scoped to cred and calls fn for every
// update until the connection drops or ctx is cancelled. It always
// returns a non-nil error; a rejected credential wraps
// ErrUnauthenticated.
func (c *Client) Subscribe(ctx context.Context, cred identity.Credential, fn func(document.Record)) error {
	header := http.Header{}
	cred.Apply(header)

	conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: realtime subscription rejected", apperr.ErrUnauthenticated)
		}

		return fmt.Errorf("%w: connecting to realtime channel: %w", apperr.ErrAPIRequest, err)
	}

	c.logger.Debug("realtime: connected", slog.String("url", c.url))

	return newSession(conn, fn, c.logger).run(ctx)
}

// session is one realtime connection. All writes happen on the event
// loop goroutine.
type session struct {
	conn      wsConn
	fn        func(document.Record)
	logger    *slog.Logger
	inboundCh chan inboundMsg

	lastMsgMu   sync.Mutex
	lastMessage time.Time
}

func newSession(conn wsConn, fn func(document.Record), logger *slog.Logger) *session {
	conn.SetReadLimit(readLimit)

	return &session{
		conn:        conn,
		fn:          fn,
		logger:      logger,
		inboundCh:   make(chan inboundMsg, inboundChanSize),
		lastMessage: time.Now(),
	}
}

func (s *session) touchLastMessage() {
	s.lastMsgMu.Lock()
	s.lastMessage = time.Now()
	s.lastMsgMu.Unlock()
}

func (s *session) idle() time.Duration {
	s.lastMsgMu.Lock()
	defer s.lastMsgMu.Unlock()

	return time.Since(s.lastMessage)
}

// startReader feeds inboundCh from the connection. The read error is
// delivered as the final message.
func (s *session) startReader(ctx context.Context) {
	ch := s.inboundCh
	conn := s.conn

	go func() {
		for {
			typ, data, err := conn.Read(ctx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()
}

func (s *session) run(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.startReader(connCtx)

	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.inboundCh:
			if msg.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				return fmt.Errorf("reading message: %w", msg.err)
			}

			s.touchLastMessage()

			if msg.typ == websocket.MessageBinary {
				s.logger.Debug("realtime: unexpected binary frame", slog.Int("bytes", len(msg.data)))
				continue
			}

			s.handleInbound(msg.data)

		case <-ticker.C:
			elapsed := s.idle()

			if elapsed > disconnectAfter {
				s.logger.Warn("realtime: connection timed out, closing")
				s.conn.Close(websocket.StatusGoingAway, "timeout")

				return fmt.Errorf("heartbeat timeout")
			}

			if elapsed > pingAfter {
				if err := s.writeJSON(ctx, Event{Op: OpPing}); err != nil {
					return fmt.Errorf("sending ping: %w", err)
				}
			}

		case <-ctx.Done():
			s.conn.Close(websocket.StatusNormalClosure, "")
			return ctx.Err()
		}
	}
}

func (s *session) handleInbound(data []byte) {
	switch op := gjson.GetBytes(data, "op").Str; op {
	case OpUpdate:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("realtime: malformed update", slog.String("error", err.Error()))
			return
		}

		s.fn(ev.Record())

	case OpPong:

	default:
		s.logger.Debug("realtime: unhandled frame", slog.String("op", op))
	}
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return s.conn.Write(ctx, websocket.MessageText, data)
}
