package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/creatif-sam/ambf-connect/internal/middleware"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

// LastSeenWriter: запись last_seen_at профиля.
type LastSeenWriter interface {
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

type ProfileHandler struct {
	profiles ProfileReader
	lastSeen LastSeenWriter
	now      func() time.Time
}

func NewProfileHandler(profiles ProfileReader, lastSeen LastSeenWriter) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, lastSeen: lastSeen, now: time.Now}
}

func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, middleware.GetUserID(r.Context()))
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	h.writeProfile(w, r, model.NormalizeID(chi.URLParam(r, "id")))
}

func (h *ProfileHandler) writeProfile(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := h.profiles.GetByID(r.Context(), id)
	if err != nil {
		writeRepoError(w, "profiles.Get", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// TouchLastSeen записывает текущее время в last_seen_at текущего пользователя (закрытие беседы).
func (h *ProfileHandler) TouchLastSeen(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.lastSeen.TouchLastSeen(r.Context(), userID, h.now().UTC()); err != nil {
		writeRepoError(w, "profiles.TouchLastSeen", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
