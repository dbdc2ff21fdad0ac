package wsstream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
)

// SessionServer runs one session per stream. *session.Manager implements it.
type SessionServer interface {
	Serve(ctx context.Context, stream session.Stream) error
}

// Handler upgrades HTTP requests to WebSocket and serves a session on each
// connection.
type Handler struct {
	sessions       SessionServer
	originPatterns []string
	writeTimeout   time.Duration
}

// NewHandler creates a WebSocket handler. originPatterns lists the
// cross-origin hosts allowed to connect; same-origin and non-browser
// clients are always accepted.
func NewHandler(sessions SessionServer, originPatterns []string, writeTimeout time.Duration) *Handler {
	return &Handler{
		sessions:       sessions,
		originPatterns: originPatterns,
		writeTimeout:   writeTimeout,
	}
}

// ServeHTTP blocks until the session ends, then closes the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   protocol.Subprotocols(),
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error response.
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	stream := NewStream(ws, h.writeTimeout)
	slog.Debug("WebSocket session accepted",
		"remote_addr", r.RemoteAddr, "codec", stream.Codec().Name())

	if err := h.sessions.Serve(r.Context(), stream); err != nil {
		slog.Error("WebSocket session failed", "remote_addr", r.RemoteAddr, "error", err)
		_ = ws.Close(websocket.StatusInternalError, "session failed")
		return
	}
	_ = stream.Close()
}
