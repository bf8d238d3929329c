package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/chatrelay/internal/broker"
	"github.com/johndosdos/chatrelay/internal/broker/worker"
	"github.com/johndosdos/chatrelay/internal/provider"
	"github.com/johndosdos/chatrelay/internal/response"
)

const maxBodyBytes = 1 << 20

type sendExternalRequest struct {
	ChatID  string `json:"chatId" validate:"required"`
	Message string `json:"message" validate:"required,max=4096"`
	Session string `json:"session" validate:"required"`
}

// receiveWebhook accepts an inbound gateway notification and queues the
// acknowledgement. The caller is answered before the gateway is contacted.
func (a *API) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	var ev provider.WebhookEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validate.Struct(ev); err != nil {
		response.Fail(w, r, http.StatusBadRequest, "session and payload.from are required", err.Error())
		return
	}

	job := worker.Acknowledge(a.provider, ev, a.opts.AckDelay, a.opts.AckText)
	if err := a.queue.Enqueue(job); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, broker.ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
		}
		response.Fail(w, r, status, "could not queue message", err.Error())
		return
	}

	a.log.InfoContext(r.Context(), "webhook accepted",
		"event", ev.Event,
		"session", ev.Session,
		"chat_id", ev.Payload.From)
	response.JSON(w, r, http.StatusAccepted, response.Envelope{Success: true, Message: "message accepted for processing"})
}

func (a *API) sendExternal(w http.ResponseWriter, r *http.Request) {
	var req sendExternalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		response.Fail(w, r, http.StatusBadRequest, "chatId, message and session are required", err.Error())
		return
	}

	data, err := a.provider.SendText(r.Context(), req.ChatID, req.Message, req.Session)
	if err != nil {
		a.providerFailed(w, r, "failed to send message", err)
		return
	}
	response.JSON(w, r, http.StatusOK, response.Envelope{Success: true, Message: "message sent", Data: data})
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	data, err := a.provider.ListSessions(r.Context())
	if err != nil {
		a.providerFailed(w, r, "failed to list sessions", err)
		return
	}
	response.OK(w, r, data, nil)
}

func (a *API) sessionStatus(w http.ResponseWriter, r *http.Request) {
	data, err := a.provider.SessionStatus(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		a.providerFailed(w, r, "failed to check session", err)
		return
	}
	response.OK(w, r, data, nil)
}

func (a *API) chatInfo(w http.ResponseWriter, r *http.Request) {
	session := strings.TrimSpace(r.URL.Query().Get("session"))
	if session == "" {
		response.Fail(w, r, http.StatusBadRequest, "chatId and session are required", "")
		return
	}

	data, err := a.provider.ChatInfo(r.Context(), chi.URLParam(r, "chatId"), session)
	if err != nil {
		a.providerFailed(w, r, "failed to get chat info", err)
		return
	}
	response.OK(w, r, data, nil)
}

// providerFailed maps gateway errors: an unconfigured gateway is 503,
// everything else the gateway did wrong is 502.
func (a *API) providerFailed(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, provider.ErrNotConfigured) {
		status = http.StatusServiceUnavailable
	}

	a.log.ErrorContext(r.Context(), msg, "error", err)
	response.Fail(w, r, status, msg, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
