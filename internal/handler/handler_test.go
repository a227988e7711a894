package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatif-sam/ambf-connect/internal/config"
	"github.com/creatif-sam/ambf-connect/internal/conversation"
	"github.com/creatif-sam/ambf-connect/internal/middleware"
	"github.com/creatif-sam/ambf-connect/internal/model"
	"github.com/creatif-sam/ambf-connect/internal/push"
	"github.com/creatif-sam/ambf-connect/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeMessages struct {
	mu       sync.Mutex
	msgs     []model.Message
	known    map[string]bool
	readArgs [][2]string
}

func (f *fakeMessages) Insert(_ context.Context, sender, receiver, content string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[receiver] {
		return nil, fmt.Errorf("repo.Insert: %w", repository.ErrNotFound)
	}
	m := model.Message{
		ID:         fmt.Sprintf("m%d", len(f.msgs)+1),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  t0.Add(time.Duration(len(f.msgs)) * time.Minute),
	}
	f.msgs = append(f.msgs, m)
	return &m, nil
}

func (f *fakeMessages) ListThread(_ context.Context, u, v string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.msgs {
		if m.Involves(u, v) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) ListForUser(_ context.Context, u string, _ int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].SenderID == u || f.msgs[i].ReceiverID == u {
			out = append(out, f.msgs[i])
		}
	}
	return out, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, receiver, sender string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readArgs = append(f.readArgs, [2]string{receiver, sender})
	n := 0
	for i := range f.msgs {
		if f.msgs[i].ReceiverID == receiver && f.msgs[i].SenderID == sender && f.msgs[i].ReadAt == nil {
			ts := t0
			f.msgs[i].ReadAt = &ts
			n++
		}
	}
	return n, nil
}

type fakeProfiles struct {
	profiles map[string]model.Profile
	touched  map[string]time.Time
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*model.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProfiles) GetMany(_ context.Context, ids []string) (map[string]model.Profile, error) {
	out := map[string]model.Profile{}
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeProfiles) TouchLastSeen(_ context.Context, id string, at time.Time) error {
	if _, ok := f.profiles[id]; !ok {
		return repository.ErrNotFound
	}
	f.touched[id] = at
	return nil
}

type sentPush struct {
	userID string
	n      push.Notification
}

type fakeNotifier struct{ ch chan sentPush }

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{ch: make(chan sentPush, 8)} }

func (f *fakeNotifier) Notify(_ context.Context, userID string, n push.Notification) {
	f.ch <- sentPush{userID: userID, n: n}
}

func (f *fakeNotifier) next(t *testing.T) sentPush {
	t.Helper()
	select {
	case p := <-f.ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("no push notification")
	}
	return sentPush{}
}

// asUser подставляет user_id в контекст вместо JWT.
func asUser(r *http.Request) *http.Request {
	if u := r.Header.Get("X-Test-User"); u != "" {
		return r.WithContext(middleware.WithUserID(r.Context(), u))
	}
	return r
}

type env struct {
	router   chi.Router
	messages *fakeMessages
	profiles *fakeProfiles
	notifier *fakeNotifier
	conns    *fakeConnections
	pushes   *fakePushSubscriber
}

func newEnv() *env {
	e := &env{
		messages: &fakeMessages{known: map[string]bool{"alice": true, "bob": true, "carol": true}},
		profiles: &fakeProfiles{
			profiles: map[string]model.Profile{
				"alice": {ID: "alice", FullName: "Alice A"},
				"bob":   {ID: "bob", FullName: "Bob B"},
				"carol": {ID: "carol", FullName: "Carol C"},
			},
			touched: map[string]time.Time{},
		},
		notifier: newFakeNotifier(),
		conns:    newFakeConnections(),
		pushes:   &fakePushSubscriber{subs: map[string][]string{}},
	}
	mh := NewMessageHandler(e.messages, e.profiles, e.notifier)
	ph := NewProfileHandler(e.profiles, e.profiles)
	ph.now = func() time.Time { return t0 }
	ch := NewConnectionHandler(e.conns, e.profiles, e.notifier)
	pu := NewPushHandler(e.pushes)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { next.ServeHTTP(w, asUser(r)) })
	})
	r.Get("/api/messages/{userId}", mh.GetThread)
	r.Post("/api/messages", mh.Send)
	r.Post("/api/messages/{userId}/read", mh.MarkRead)
	r.Get("/api/conversations", mh.Conversations)
	r.Get("/api/profiles/me", ph.GetMe)
	r.Put("/api/profiles/me/last-seen", ph.TouchLastSeen)
	r.Get("/api/profiles/{id}", ph.GetProfile)
	r.Post("/api/connections", ch.Create)
	r.Get("/api/connections", ch.List)
	r.Post("/api/connections/{id}/accept", ch.Accept)
	r.Post("/api/connections/{id}/decline", ch.Decline)
	r.Post("/api/push/subscribe", pu.Subscribe)
	r.Delete("/api/push/subscribe", pu.Unsubscribe)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSendMessage(t *testing.T) {
	e := newEnv()

	rec := e.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiver_id": " Bob ", "content": "  hi there  "})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[model.Message](t, rec)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, "hi there", msg.Content)

	p := e.notifier.next(t)
	assert.Equal(t, "bob", p.userID)
	assert.Equal(t, "Alice A", p.n.Title)
	assert.Equal(t, "hi there", p.n.Body)
	assert.Equal(t, "/messages/alice", p.n.URL)
}

func TestSendMessageValidation(t *testing.T) {
	e := newEnv()
	cases := []struct {
		name string
		body any
		code int
	}{
		{"blank content", map[string]string{"receiver_id": "bob", "content": " \n\t "}, http.StatusBadRequest},
		{"no receiver", map[string]string{"content": "x"}, http.StatusBadRequest},
		{"self", map[string]string{"receiver_id": "ALICE", "content": "x"}, http.StatusBadRequest},
		{"too long", map[string]string{"receiver_id": "bob", "content": strings.Repeat("я", model.MaxContentLength+1)}, http.StatusBadRequest},
		{"unknown receiver", map[string]string{"receiver_id": "nobody", "content": "x"}, http.StatusNotFound},
		{"bad json", "{", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, "alice", http.MethodPost, "/api/messages", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	assert.Empty(t, e.messages.msgs)

	rec := e.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "bob", "content": strings.Repeat("я", model.MaxContentLength)})
	assert.Equal(t, http.StatusCreated, rec.Code, "limit counts characters, not bytes")
}

func TestThreadAndMarkRead(t *testing.T) {
	e := newEnv()
	require.Equal(t, http.StatusCreated, e.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "bob", "content": "one"}).Code)
	require.Equal(t, http.StatusCreated, e.do(t, "bob", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "alice", "content": "two"}).Code)
	require.Equal(t, http.StatusCreated, e.do(t, "carol", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "alice", "content": "other"}).Code)

	rec := e.do(t, "bob", http.MethodGet, "/api/messages/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]model.Message](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)

	rec = e.do(t, "bob", http.MethodPost, "/api/messages/alice/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"updated": 1}, decode[map[string]int](t, rec))
	assert.Equal(t, [][2]string{{"bob", "alice"}}, e.messages.readArgs, "scoped to receiver = caller")

	rec = e.do(t, "bob", http.MethodPost, "/api/messages/alice/read", nil)
	assert.Equal(t, map[string]int{"updated": 0}, decode[map[string]int](t, rec))

	assert.Equal(t, http.StatusBadRequest, e.do(t, "bob", http.MethodGet, "/api/messages/bob", nil).Code)
}

func TestConversations(t *testing.T) {
	e := newEnv()
	e.do(t, "alice", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "bob", "content": "to bob"})
	e.do(t, "carol", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "alice", "content": "from carol"})
	e.do(t, "bob", http.MethodPost, "/api/messages", map[string]string{"receiver_id": "alice", "content": "bob again"})

	rec := e.do(t, "alice", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]conversation.Conversation](t, rec)
	require.Len(t, convs, 2)
	assert.Equal(t, "bob", convs[0].Counterparty.ID)
	assert.Equal(t, "Bob B", convs[0].Counterparty.FullName)
	assert.Equal(t, "bob again", convs[0].LastMessage.Content)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, "carol", convs[1].Counterparty.ID)

	rec = e.do(t, "nobody", http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestProfiles(t *testing.T) {
	e := newEnv()

	rec := e.do(t, "alice", http.MethodGet, "/api/profiles/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice A", decode[model.Profile](t, rec).FullName)

	rec = e.do(t, "alice", http.MethodGet, "/api/profiles/BOB", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode[model.Profile](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, e.do(t, "alice", http.MethodGet, "/api/profiles/ghost", nil).Code)

	rec = e.do(t, "alice", http.MethodPut, "/api/profiles/me/last-seen", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, t0, e.profiles.touched["alice"])
}

type fakeConnections struct {
	mu    sync.Mutex
	items map[string]*model.ConnectionRequest
	seq   int
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{items: map[string]*model.ConnectionRequest{}}
}

func (f *fakeConnections) Create(_ context.Context, requester, addressee, note string) (*model.ConnectionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.items {
		if (c.RequesterID == requester && c.AddresseeID == addressee) || (c.RequesterID == addressee && c.AddresseeID == requester) {
			return nil, repository.ErrConflict
		}
	}
	f.seq++
	c := &model.ConnectionRequest{
		ID:          fmt.Sprintf("c%d", f.seq),
		RequesterID: requester,
		AddresseeID: addressee,
		Note:        note,
		Status:      model.ConnectionPending,
		CreatedAt:   t0,
	}
	f.items[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeConnections) Respond(_ context.Context, id, addressee string, status model.ConnectionStatus) (*model.ConnectionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	switch {
	case !ok:
		return nil, repository.ErrNotFound
	case c.AddresseeID != addressee:
		return nil, repository.ErrForbidden
	case c.Status != model.ConnectionPending:
		return nil, repository.ErrConflict
	}
	c.Status = status
	cp := *c
	return &cp, nil
}

func (f *fakeConnections) ListForUser(_ context.Context, userID string) (*model.ConnectionList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &model.ConnectionList{Incoming: []model.ConnectionRequest{}, Outgoing: []model.ConnectionRequest{}, Accepted: []model.ConnectionRequest{}}
	for _, c := range f.items {
		switch {
		case c.Status == model.ConnectionAccepted && (c.RequesterID == userID || c.AddresseeID == userID):
			list.Accepted = append(list.Accepted, *c)
		case c.Status == model.ConnectionPending && c.AddresseeID == userID:
			list.Incoming = append(list.Incoming, *c)
		case c.Status == model.ConnectionPending && c.RequesterID == userID:
			list.Outgoing = append(list.Outgoing, *c)
		}
	}
	return list, nil
}

func TestConnectionLifecycle(t *testing.T) {
	e := newEnv()

	rec := e.do(t, "alice", http.MethodPost, "/api/connections", map[string]string{"addressee_id": "bob", "note": "met at the panel"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[model.ConnectionRequest](t, rec)
	assert.Equal(t, model.ConnectionPending, c.Status)

	p := e.notifier.next(t)
	assert.Equal(t, "bob", p.userID)
	assert.Equal(t, "New connection request", p.n.Title)
	assert.Equal(t, "met at the panel", p.n.Body)
	assert.Equal(t, "/network", p.n.URL)

	assert.Equal(t, http.StatusConflict, e.do(t, "bob", http.MethodPost, "/api/connections", map[string]string{"addressee_id": "alice"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "alice", http.MethodPost, "/api/connections", map[string]string{"addressee_id": "alice"}).Code)

	rec = e.do(t, "bob", http.MethodGet, "/api/connections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ConnectionList](t, rec)
	require.Len(t, list.Incoming, 1)
	assert.Empty(t, list.Outgoing)

	assert.Equal(t, http.StatusForbidden, e.do(t, "alice", http.MethodPost, "/api/connections/"+c.ID+"/accept", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "bob", http.MethodPost, "/api/connections/c999/accept", nil).Code)

	rec = e.do(t, "bob", http.MethodPost, "/api/connections/"+c.ID+"/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ConnectionAccepted, decode[model.ConnectionRequest](t, rec).Status)

	p = e.notifier.next(t)
	assert.Equal(t, "alice", p.userID)
	assert.Equal(t, "Bob B accepted your request", p.n.Body)

	assert.Equal(t, http.StatusConflict, e.do(t, "bob", http.MethodPost, "/api/connections/"+c.ID+"/decline", nil).Code)
}

func TestDeclineDoesNotNotify(t *testing.T) {
	e := newEnv()
	rec := e.do(t, "alice", http.MethodPost, "/api/connections", map[string]string{"addressee_id": "carol"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[model.ConnectionRequest](t, rec)
	e.notifier.next(t)

	rec = e.do(t, "carol", http.MethodPost, "/api/connections/"+c.ID+"/decline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	select {
	case p := <-e.notifier.ch:
		t.Fatalf("unexpected push %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakePushSubscriber struct {
	mu   sync.Mutex
	subs map[string][]string
	err  error
}

func (f *fakePushSubscriber) Subscribe(_ context.Context, userID string, sub push.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subs[userID] = append(f.subs[userID], sub.Endpoint)
	return nil
}

func (f *fakePushSubscriber) Unsubscribe(_ context.Context, userID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	kept := f.subs[userID][:0]
	for _, e := range f.subs[userID] {
		if e != endpoint {
			kept = append(kept, e)
		}
	}
	f.subs[userID] = kept
	return nil
}

func TestPushSubscribe(t *testing.T) {
	e := newEnv()
	body := `{"subscription":{"endpoint":"https://push.example/1","keys":{"p256dh":"p","auth":"a"}}}`

	assert.Equal(t, http.StatusNoContent, e.do(t, "alice", http.MethodPost, "/api/push/subscribe", body).Code)
	assert.Equal(t, []string{"https://push.example/1"}, e.pushes.subs["alice"])

	assert.Equal(t, http.StatusBadRequest, e.do(t, "alice", http.MethodPost, "/api/push/subscribe", `{"subscription":{"endpoint":"x"}}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "alice", http.MethodDelete, "/api/push/subscribe", `{}`).Code)

	assert.Equal(t, http.StatusNoContent, e.do(t, "alice", http.MethodDelete, "/api/push/subscribe", `{"endpoint":"https://push.example/1"}`).Code)
	assert.Empty(t, e.pushes.subs["alice"])

	e.pushes.err = fmt.Errorf("push down")
	assert.Equal(t, http.StatusBadGateway, e.do(t, "alice", http.MethodPost, "/api/push/subscribe", body).Code)
}

func TestPushConfig(t *testing.T) {
	h := NewConfigHandler(&config.Config{})
	rec := httptest.NewRecorder()
	h.GetPushConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/push", nil))
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())

	h = NewConfigHandler(&config.Config{PushServiceURL: "http://push", PushVAPIDPublicKey: "BPUB"})
	rec = httptest.NewRecorder()
	h.GetPushConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/push", nil))
	assert.JSONEq(t, `{"enabled":true,"vapid_public_key":"BPUB"}`, rec.Body.String())
}

func TestWSOriginCheck(t *testing.T) {
	h := NewWSHandler(nil, "https://app.example, https://admin.example")

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	req = req.WithContext(middleware.WithUserID(req.Context(), "alice"))
	rec := httptest.NewRecorder()
	h.ServeWS(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://admin.example")
	assert.True(t, h.checkOrigin(req))
}
