package handler

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/creatif-sam/ambf-connect/internal/conversation"
	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/metrics"
	"github.com/creatif-sam/ambf-connect/internal/middleware"
	"github.com/creatif-sam/ambf-connect/internal/model"
	"github.com/creatif-sam/ambf-connect/internal/push"
)

// MessageStore: операции над таблицей messages (repository.MessageRepository).
type MessageStore interface {
	Insert(ctx context.Context, senderID, receiverID, content string) (*model.Message, error)
	ListThread(ctx context.Context, userID, otherID string) ([]model.Message, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, receiverID, senderID string) (int, error)
}

// ProfileReader: чтение профилей (repository.ProfileRepository).
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	GetMany(ctx context.Context, ids []string) (map[string]model.Profile, error)
}

type MessageHandler struct {
	messages MessageStore
	profiles ProfileReader
	notifier Notifier
}

func NewMessageHandler(messages MessageStore, profiles ProfileReader, notifier Notifier) *MessageHandler {
	return &MessageHandler{messages: messages, profiles: profiles, notifier: notifier}
}

// GetThread: история пары (me, userId) по возрастанию created_at.
func (h *MessageHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID := model.NormalizeID(chi.URLParam(r, "userId"))
	if otherID == "" || otherID == userID {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	msgs, err := h.messages.ListThread(r.Context(), userID, otherID)
	if err != nil {
		writeRepoError(w, "messages.GetThread", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// Send вставляет сообщение от текущего пользователя. Отправитель всегда берётся из токена.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	receiverID := model.NormalizeID(req.ReceiverID)
	content := strings.TrimSpace(req.Content)
	switch {
	case receiverID == "":
		writeError(w, http.StatusBadRequest, "receiver_id required")
		return
	case receiverID == userID:
		writeError(w, http.StatusBadRequest, "cannot message yourself")
		return
	case content == "":
		writeError(w, http.StatusBadRequest, "content required")
		return
	case utf8.RuneCountInString(content) > model.MaxContentLength:
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	msg, err := h.messages.Insert(r.Context(), userID, receiverID, content)
	if err != nil {
		writeRepoError(w, "messages.Send", err)
		return
	}
	metrics.MessagesSent.Inc()

	sender, err := h.profiles.GetByID(r.Context(), userID)
	if err != nil {
		logger.Debugf("messages.Send: sender profile %s: %v", userID, err)
	}
	notifyAsync(h.notifier, receiverID, push.ForMessage(sender, msg))

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead отмечает прочитанными сообщения от userId к текущему пользователю.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	senderID := model.NormalizeID(chi.URLParam(r, "userId"))
	if senderID == "" {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	n, err := h.messages.MarkRead(r.Context(), userID, senderID)
	if err != nil {
		writeRepoError(w, "messages.MarkRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// Conversations: список бесед (входящие) с последним сообщением и профилем собеседника.
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	msgs, err := h.messages.ListForUser(r.Context(), userID, queryInt(r, "limit", 1000))
	if err != nil {
		writeRepoError(w, "messages.Conversations", err)
		return
	}
	ids := conversation.Counterparties(userID, msgs)
	profiles := map[string]model.Profile{}
	if len(ids) > 0 {
		profiles, err = h.profiles.GetMany(r.Context(), ids)
		if err != nil {
			writeRepoError(w, "messages.Conversations profiles", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, conversation.Aggregate(userID, msgs, profiles))
}
