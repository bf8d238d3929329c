package handler

import (
	"net/http"
	"time"

	"github.com/johndosdos/chatrelay/internal/broker"
	"github.com/johndosdos/chatrelay/internal/response"
)

const version = "1.0.0"

type banner struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Version       string `json:"version"`
	Documentation string `json:"documentation"`
	Websocket     string `json:"websocket"`
}

func (a *API) serveRoot(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, banner{
		Success:       true,
		Message:       "Chat relay API",
		Version:       version,
		Documentation: "/api",
		Websocket:     "/ws",
	})
}

func (a *API) serveIndex(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, map[string]any{
		"version": version,
		"endpoints": map[string]string{
			"messages": "/api/messages",
			"health":   "/api/health",
			"presence": "/api/presence",
			"ws":       "/ws",
		},
	}, nil)
}

type health struct {
	Timestamp   time.Time    `json:"timestamp"`
	Uptime      string       `json:"uptime"`
	Connections int          `json:"connections"`
	Messages    int          `json:"messages"`
	Queue       broker.Stats `json:"queue"`
}

func (a *API) serveHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, response.Envelope{
		Success: true,
		Message: "API is healthy",
		Data: health{
			Timestamp:   time.Now().UTC(),
			Uptime:      time.Since(a.started).Round(time.Second).String(),
			Connections: a.transport.Len(),
			Messages:    a.store.Len(),
			Queue:       a.queue.Stats(),
		},
	})
}

func (a *API) servePresence(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, a.presence.Stats(), nil)
}

func (a *API) notFound(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusNotFound, response.Envelope{
		Message: "route not found",
		Path:    r.URL.Path,
	})
}

func (a *API) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusMethodNotAllowed, response.Envelope{
		Message: "method not allowed",
		Path:    r.URL.Path,
	})
}
