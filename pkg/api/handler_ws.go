package api

import (
	"log/slog"
	"net/http"
	"time"
)

// routes puts the WebSocket endpoint in front of the gin engine. The upgrade
// must reach websocket.Accept with the net/http ResponseWriter: gin's writer
// refuses to hijack once Accept has flushed the 101 through it.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.wsHandler())
	mux.Handle("/", s.engine)
	return mux
}

// wsHandler upgrades to WebSocket and serves one task session on the
// connection. It blocks until the session ends.
func (s *Server) wsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.ws.ServeHTTP(w, r)
		slog.Debug("WebSocket request",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start))
	})
}
