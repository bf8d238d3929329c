// Package handler serves the HTTP API and the websocket endpoint.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/johndosdos/chatrelay/internal"
	"github.com/johndosdos/chatrelay/internal/broker"
	"github.com/johndosdos/chatrelay/internal/broker/worker"
	"github.com/johndosdos/chatrelay/internal/chat"
	"github.com/johndosdos/chatrelay/internal/presence"
	ratelimiter "github.com/johndosdos/chatrelay/internal/rate_limiter"
	"github.com/johndosdos/chatrelay/internal/store"
	ws "github.com/johndosdos/chatrelay/internal/websocket"
)

var validate = validator.New()

// Hub accepts websocket events and room announcements. *chat.Hub
// implements it.
type Hub interface {
	ws.Dispatcher
	Announce(ctx context.Context, roomID string, ev chat.Event) error
}

// Provider is the messaging gateway. *provider.Client implements it.
type Provider interface {
	worker.Acknowledger
	SendText(ctx context.Context, chatID, text, session string) (json.RawMessage, error)
	SessionStatus(ctx context.Context, session string) (json.RawMessage, error)
	ChatInfo(ctx context.Context, chatID, session string) (json.RawMessage, error)
	ListSessions(ctx context.Context) (json.RawMessage, error)
}

// Queue runs jobs in the background. *broker.Dispatcher implements it.
type Queue interface {
	Enqueue(job broker.Job) error
	Stats() broker.Stats
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	StaticDir      string
	AckDelay       time.Duration
	AckText        string

	// Limiter throttles /api/messages per client IP. Nil disables it.
	Limiter *ratelimiter.IPRateLimiter
}

type API struct {
	store     *store.Store
	presence  *presence.Registry
	hub       Hub
	transport *ws.Transport
	provider  Provider
	queue     Queue
	log       *slog.Logger
	opts      Options
	started   time.Time
}

func New(st *store.Store, reg *presence.Registry, hub Hub, t *ws.Transport, p Provider, q Queue, log *slog.Logger, opts Options) *API {
	return &API{
		store:     st,
		presence:  reg,
		hub:       hub,
		transport: t,
		provider:  p,
		queue:     q,
		log:       log,
		opts:      opts,
		started:   time.Now(),
	}
}

// Routes builds the router. Websocket connections are closed when ctx ends.
func (a *API) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	// Registered first so mounted sub-routers inherit them.
	r.NotFound(a.notFound)
	r.MethodNotAllowed(a.methodNotAllowed)

	r.Use(middleware.RequestID)
	r.Use(internal.RequestLogger(a.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Authorization", "X-User-Id", "X-Username"},
		MaxAge:         300,
	}))

	identify := internal.Identify(a.opts.JWTSecret)

	r.Get("/", a.serveRoot)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(a.opts.StaticDir))))
	r.With(identify).Get("/ws", ServeWs(ctx, a.transport, a.hub, a.opts.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Use(identify)

		r.Get("/", a.serveIndex)
		r.Get("/health", a.serveHealth)
		r.Get("/presence", a.servePresence)

		r.Route("/messages", func(r chi.Router) {
			if a.opts.Limiter != nil {
				r.Use(a.opts.Limiter.Middleware)
			}

			r.Get("/", a.listMessages)
			r.Post("/", a.receiveWebhook)

			r.Post("/send-external", a.sendExternal)
			r.Get("/sessions", a.listSessions)
			r.Get("/session/{session}/status", a.sessionStatus)
			r.Get("/chat/{chatId}/info", a.chatInfo)

			r.Get("/search", a.searchMessages)
			r.Get("/stats", a.roomStats)
			r.Get("/stats/{roomId}", a.roomStats)
			r.Get("/user/{userId}", a.userMessages)

			r.Get("/{id}", a.getMessage)
			r.Delete("/{id}", a.deleteMessage)
		})
	})

	return r
}
