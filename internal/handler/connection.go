package handler

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/metrics"
	"github.com/creatif-sam/ambf-connect/internal/middleware"
	"github.com/creatif-sam/ambf-connect/internal/model"
	"github.com/creatif-sam/ambf-connect/internal/push"
)

const maxNoteLength = 500

// ConnectionStore: запросы на знакомство (repository.ConnectionRepository).
type ConnectionStore interface {
	Create(ctx context.Context, requesterID, addresseeID, note string) (*model.ConnectionRequest, error)
	Respond(ctx context.Context, id, addresseeID string, status model.ConnectionStatus) (*model.ConnectionRequest, error)
	ListForUser(ctx context.Context, userID string) (*model.ConnectionList, error)
}

type ConnectionHandler struct {
	connections ConnectionStore
	profiles    ProfileReader
	notifier    Notifier
}

func NewConnectionHandler(connections ConnectionStore, profiles ProfileReader, notifier Notifier) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, profiles: profiles, notifier: notifier}
}

type createConnectionRequest struct {
	AddresseeID string `json:"addressee_id"`
	Note        string `json:"note"`
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	addresseeID := model.NormalizeID(req.AddresseeID)
	note := strings.TrimSpace(req.Note)
	switch {
	case addresseeID == "":
		writeError(w, http.StatusBadRequest, "addressee_id required")
		return
	case addresseeID == userID:
		writeError(w, http.StatusBadRequest, "cannot connect with yourself")
		return
	case utf8.RuneCountInString(note) > maxNoteLength:
		writeError(w, http.StatusBadRequest, "note too long")
		return
	}

	c, err := h.connections.Create(r.Context(), userID, addresseeID, note)
	if err != nil {
		writeRepoError(w, "connections.Create", err)
		return
	}
	metrics.ConnectionRequests.WithLabelValues(string(model.ConnectionPending)).Inc()
	notifyAsync(h.notifier, addresseeID, push.ForConnectionRequest(h.profile(r.Context(), userID), c))
	writeJSON(w, http.StatusCreated, c)
}

func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, model.ConnectionAccepted)
}

func (h *ConnectionHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, model.ConnectionDeclined)
}

func (h *ConnectionHandler) respond(w http.ResponseWriter, r *http.Request, status model.ConnectionStatus) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	c, err := h.connections.Respond(r.Context(), id, userID, status)
	if err != nil {
		writeRepoError(w, "connections.Respond", err)
		return
	}
	metrics.ConnectionRequests.WithLabelValues(string(status)).Inc()
	if status == model.ConnectionAccepted {
		notifyAsync(h.notifier, c.RequesterID, push.ForConnectionAccepted(h.profile(r.Context(), userID)))
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.connections.ListForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeRepoError(w, "connections.List", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// profile: профиль для текста уведомления; ошибка не мешает основному ответу.
func (h *ConnectionHandler) profile(ctx context.Context, id string) *model.Profile {
	p, err := h.profiles.GetByID(ctx, id)
	if err != nil {
		logger.Debugf("connections: profile %s: %v", id, err)
		return nil
	}
	return p
}
