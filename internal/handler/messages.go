package handler

import (
	"cmp"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/chatrelay/internal/auth"
	"github.com/johndosdos/chatrelay/internal/chat"
	"github.com/johndosdos/chatrelay/internal/model"
	"github.com/johndosdos/chatrelay/internal/response"
	"github.com/johndosdos/chatrelay/internal/store"
)

const (
	defaultPageSize   = 50
	defaultSearchSize = 20
	defaultUserSize   = 20
)

var errBadNumber = errors.New("must be an integer")

type roomMeta struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type searchMeta struct {
	Query  string `json:"query"`
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
	Limit  int    `json:"limit"`
}

type userMeta struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
	Limit  int    `json:"limit"`
}

// listMessages pages through a room's history, oldest first within a page.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID := roomParam(r)
	limit, err := intQuery(r, "limit", defaultPageSize)
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	msgs := a.store.GetByRoom(roomID, limit, offset)
	response.OK(w, r, msgs, roomMeta{RoomID: roomID, Count: len(msgs), Limit: limit, Offset: offset})
}

func (a *API) searchMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		response.Fail(w, r, http.StatusBadRequest, "search query is required", "")
		return
	}

	roomID := roomParam(r)
	limit, err := intQuery(r, "limit", defaultSearchSize)
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	msgs, err := a.store.Search(query, roomID, limit)
	if err != nil {
		response.Fail(w, r, statusFor(err), "search failed", err.Error())
		return
	}
	response.OK(w, r, msgs, searchMeta{Query: query, RoomID: roomID, Count: len(msgs), Limit: limit})
}

func (a *API) roomStats(w http.ResponseWriter, r *http.Request) {
	roomID := cmp.Or(chi.URLParam(r, "roomId"), model.DefaultRoom)
	response.OK(w, r, a.store.Stats(roomID), nil)
}

func (a *API) userMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	limit, err := intQuery(r, "limit", defaultUserSize)
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	msgs := a.store.GetByUser(userID, limit)
	response.OK(w, r, msgs, userMeta{UserID: userID, Count: len(msgs), Limit: limit})
}

func (a *API) getMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		response.Fail(w, r, http.StatusNotFound, "message not found", "")
		return
	}

	msg, ok := a.store.FindByID(id)
	if !ok {
		response.Fail(w, r, http.StatusNotFound, "message not found", "")
		return
	}
	response.OK(w, r, msg, nil)
}

// deleteMessage removes a message on behalf of its author and tells the
// room about it.
func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	who, err := auth.IdentityFromContext(ctx)
	if err != nil || who.Anonymous {
		response.Fail(w, r, http.StatusUnauthorized, "authentication required", "")
		return
	}

	id, ok := idParam(r)
	if !ok {
		response.Fail(w, r, http.StatusNotFound, store.ErrNotFound.Error(), "")
		return
	}

	msg, err := a.store.Delete(id, who.UserID)
	if err != nil {
		response.Fail(w, r, statusFor(err), err.Error(), "")
		return
	}

	if err := a.hub.Announce(ctx, msg.RoomID, chat.MessageDeleted{ID: msg.ID}); err != nil {
		a.log.WarnContext(ctx, "failed to announce deletion",
			"error", err,
			"message_id", msg.ID,
			"room_id", msg.RoomID)
	}

	a.log.InfoContext(ctx, "message deleted",
		"message_id", msg.ID,
		"room_id", msg.RoomID,
		"user_id", who.UserID)
	response.JSON(w, r, http.StatusOK, response.Envelope{Success: true, Message: "message deleted"})
}

func roomParam(r *http.Request) string {
	return cmp.Or(strings.TrimSpace(r.URL.Query().Get("roomId")), model.DefaultRoom)
}

// intQuery reads an integer query parameter, falling back to def when it
// is absent.
func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s %w", key, errBadNumber)
	}
	return n, nil
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
