// Package client: клиент API для терминального чата и интеграционных тестов:
// REST (история, отправка, прочтение, профили) и WebSocket-транспорт каналов комнаты.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/creatif-sam/ambf-connect/internal/conversation"
	"github.com/creatif-sam/ambf-connect/internal/model"
	"github.com/creatif-sam/ambf-connect/internal/thread"
)

// APIError: ответ API со статусом не 2xx.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// REST: HTTP-клиент API от имени владельца токена.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewREST(baseURL, token string) *REST {
	return &REST{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *REST) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

// ListThread: история беседы с otherID по возрастанию created_at.
func (c *REST) ListThread(ctx context.Context, otherID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(otherID), nil, &msgs)
	return msgs, err
}

func (c *REST) SendMessage(ctx context.Context, receiverID, content string) (*model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", map[string]string{
		"receiver_id": receiverID,
		"content":     content,
	}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkRead отмечает прочитанными сообщения от senderID владельцу токена.
func (c *REST) MarkRead(ctx context.Context, senderID string) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(senderID)+"/read", nil, &out)
	return out.Updated, err
}

func (c *REST) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	var out []conversation.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out)
	return out, err
}

func (c *REST) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *REST) Me(ctx context.Context) (*model.Profile, error) {
	var p model.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TouchLastSeen записывает текущее время в last_seen_at владельца токена.
func (c *REST) TouchLastSeen(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/profiles/me/last-seen", nil, nil)
}

var (
	_ thread.Store    = (*REST)(nil)
	_ thread.Profiles = (*REST)(nil)
)
