package handler

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/johndosdos/chatrelay/internal/auth"
	ws "github.com/johndosdos/chatrelay/internal/websocket"
)

// ServeWs handles the client's websocket connection upgrade. Connections
// are closed when either the request or ctx ends.
func ServeWs(ctx context.Context, t *ws.Transport, d ws.Dispatcher, allowedOrigins []string) http.HandlerFunc {
	opts := &websocket.AcceptOptions{
		OriginPatterns:     allowedOrigins,
		InsecureSkipVerify: len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*"),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			slog.WarnContext(r.Context(), "failed to upgrade connection",
				"error", err,
				"remote_addr", r.RemoteAddr)
			return
		}

		c := t.NewClient(conn, handshakeIdentity(r))
		t.Register(c)

		slog.InfoContext(r.Context(), "upgraded connection",
			"conn_id", c.ID,
			"username", c.Identity.Username)

		connCtx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		// We block on c.ReadMessage() because the request context will be canceled as soon
		// we return from the ServeWs() handler.
		go c.WriteMessage(connCtx)
		c.ReadMessage(connCtx, d)
	}
}

// handshakeIdentity prefers the identity resolved by the middleware. Browsers
// cannot set headers on an upgrade request, so an anonymous caller may name
// itself through the userId and username query parameters instead.
func handshakeIdentity(r *http.Request) auth.Identity {
	id, err := auth.IdentityFromContext(r.Context())
	if err != nil {
		id = auth.Anonymous(time.Now())
	}
	if !id.Anonymous {
		return id
	}

	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))
	username := strings.TrimSpace(q.Get("username"))
	if userID == "" && username == "" {
		return id
	}

	return auth.Identity{
		UserID:   cmp.Or(userID, username),
		Username: cmp.Or(username, userID),
	}
}
