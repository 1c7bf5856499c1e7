package port

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/errmap"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
	"github.com/augustinebeh/worklink-gateway/pkg/protocol"
)

// wsService is a narrow, consumer-defined interface for the gateway service
// operations the WebSocket handler requires. The *app.Service satisfies this.
type wsService interface {
	Connect(ctx context.Context, p app.ConnectParams) (*app.Session, error)
	Disconnect(ctx context.Context, sess *app.Session)
	HandleFrame(ctx context.Context, sess *app.Session, data []byte)
}

// WSHandler upgrades HTTP requests into gateway connections and runs the
// per-connection pumps. One instance serves all connections.
type WSHandler struct {
	svc      wsService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler backed by the given Service. An empty
// origin allow-list admits upgrades from any origin.
func NewWSHandler(svc *app.Service, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker builds the upgrade origin policy. Browser consoles must
// match an allow-list entry exactly; requests without an Origin header
// (native worker apps, server-side clients) always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// ServeHTTP runs one connection from upgrade to teardown. The upgrade happens
// before the handshake is validated so failures reach the client as close
// frames with an application code instead of an HTTP error page.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.WarnContext(r.Context(), "gateway.ws_upgrade_failed",
			"error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := newWSConn(ws)

	// The connection outlives the upgrade request, so detach from the
	// request context before handing off.
	ctx := context.WithoutCancel(r.Context())

	q := r.URL.Query()
	sess, err := h.svc.Connect(ctx, app.ConnectParams{
		Token:     q.Get("token"),
		Role:      q.Get("role"),
		WorkerID:  q.Get("worker_id"),
		OriginKey: clientIP(r),
		Conn:      conn,
	})
	if err != nil {
		wc := errmap.ToWebSocketClose(err)
		h.logger.WarnContext(ctx, "gateway.handshake_rejected",
			"error", err, "close_code", wc.Code, "remote_addr", r.RemoteAddr)
		conn.Close(wc.Code, wc.Reason)
		conn.waitClosed()
		return
	}

	h.readPump(ctx, sess, conn)

	// The read pump returned: the peer went away, missed its heartbeat, or
	// the registry closed the handle. Wake the writer if it is still
	// running, wait for it to flush, then deregister.
	conn.Close(errmap.CloseNormalClosure, "")
	conn.waitClosed()
	h.svc.Disconnect(ctx, sess)
}

// readPump consumes inbound frames until the connection dies. Runs on the
// request goroutine; per-connection dispatch stays strictly sequential
// because HandleFrame is called inline.
func (h *WSHandler) readPump(ctx context.Context, sess *app.Session, c *wsConn) {
	// Hard transport cut at twice the frame limit. The dispatcher rejects
	// anything over the frame limit with an error frame and keeps the
	// connection; the transport cut only guards against runaway payloads.
	c.ws.SetReadLimit(2 * domain.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(domain.HeartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(domain.HeartbeatTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				h.logger.InfoContext(ctx, "gateway.ws_read_closed",
					"error", err, "connection_id", sess.ConnectionID.String())
			}
			return
		}
		// Any inbound traffic proves liveness, not just pongs.
		_ = c.ws.SetReadDeadline(time.Now().Add(domain.HeartbeatTimeout))
		h.dispatchFrame(ctx, sess, c, data)
	}
}

// dispatchFrame isolates one frame's handling. The upgrade hijacks the
// connection out from under net/http's per-request panic recovery, so
// without this guard a panicking handler would take the process down with
// it instead of costing one connection.
func (h *WSHandler) dispatchFrame(ctx context.Context, sess *app.Session, c *wsConn, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.ErrorContext(ctx, "gateway.frame_panic",
				"panic", rec,
				"stack", string(debug.Stack()),
				"connection_id", sess.ConnectionID.String())
			c.Close(errmap.CloseInternalError, "internal_error")
		}
	}()
	h.svc.HandleFrame(ctx, sess, data)
}

// clientIP resolves the admission key for a connection attempt: the first
// X-Forwarded-For entry when the edge proxy set one, the peer address
// otherwise.
func clientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		// X-Forwarded-For may contain a comma-separated list; take the first.
		if idx := strings.IndexByte(v, ','); idx >= 0 {
			return strings.TrimSpace(v[:idx])
		}
		return strings.TrimSpace(v)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// wsConn adapts one gorilla connection to the registry's Conn contract: a
// bounded outbound queue drained by a single writer goroutine, so Send and
// Close never block and never touch the socket directly.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte

	// closeCode/closeText are written before closed is closed and read by
	// the writer only after; the channel close orders them.
	closeOnce  sync.Once
	closed     chan struct{}
	closeCode  int
	closeText  string
	writerDone chan struct{}
}

var _ app.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn) *wsConn {
	c := &wsConn{
		ws:         ws,
		send:       make(chan []byte, domain.OutboundBufferSize),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues one frame for the writer. A false return means the outbound
// buffer is full or the connection is closing; the caller treats the handle
// as not ready and skips it.
func (c *wsConn) Send(frame *protocol.Frame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame.Data:
		return true
	default:
		return false
	}
}

// Close records the close code and wakes the writer to flush the close
// frame. Non-blocking and idempotent; callable from any goroutine.
func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.closed)
	})
}

// waitClosed blocks until the writer has flushed the close frame and released
// the socket.
func (c *wsConn) waitClosed() {
	<-c.writerDone
}

// writePump is the connection's single writer: queued frames, heartbeat
// pings, and finally the close frame all go through here. Exits on the first
// write error or once Close fires.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(domain.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(domain.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(domain.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			// Best-effort close handshake; frames still queued are
			// dropped on the floor.
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
			_ = c.ws.SetWriteDeadline(time.Now().Add(domain.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
			return
		}
	}
}
