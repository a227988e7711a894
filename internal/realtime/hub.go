// Package realtime: серверная часть realtime-транспорта: WebSocket-подключения,
// подписки на топики комнат, реестр присутствия, эфемерный broadcast и раздача
// событий ленты изменений сообщений.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/metrics"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

// LastSeenWriter записывает время ухода пользователя, когда закрылось его последнее подключение.
type LastSeenWriter interface {
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
}

type Options struct {
	MaxConnections int
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	// LastSeen может быть nil.
	LastSeen LastSeenWriter
	Now      func() time.Time
}

func (o *Options) withDefaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10000
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 8192
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Hub struct {
	opts Options

	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	topics   map[string]map[*Client]struct{}
	presence *presenceRegistry
	total    int

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	bg         sync.WaitGroup
}

func NewHub(opts Options) *Hub {
	opts.withDefaults()
	return &Hub{
		opts:       opts,
		clients:    make(map[string]map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		presence:   newPresenceRegistry(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.topics = make(map[string]map[*Client]struct{})
	h.presence = newPresenceRegistry()
	h.total = 0
	h.mu.Unlock()
	metrics.WSConnections.Set(0)

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
	h.bg.Wait()
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Online сообщает, есть ли у пользователя открытые подключения.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConnections {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConnections, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	metrics.WSConnections.Inc()
}

// presenceChange: что разослать после ухода подключения из канала присутствия.
type presenceChange struct {
	topic   string
	left    bool
	removed []model.PresenceMeta
	members []*Client
	snap    model.PresenceSnapshot
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	lastClient := false
	if clients, ok := h.clients[c.userID]; ok {
		if _, exists := clients[c]; exists {
			delete(clients, c)
			h.total--
			metrics.WSConnections.Dec()
			if len(clients) == 0 {
				delete(h.clients, c.userID)
				lastClient = true
			}
		}
	}
	changes := make([]presenceChange, 0, len(c.topics))
	for topic := range c.topics {
		if ch, ok := h.unsubscribeLocked(c, topic); ok {
			changes = append(changes, ch)
		}
	}
	h.mu.Unlock()

	c.Close()
	if !lastClient || h.opts.LastSeen == nil {
		for _, ch := range changes {
			h.announcePresence(c.userID, ch)
		}
		return
	}

	// last_seen_at пишется до leave: собеседник читает профиль сразу по leave.
	// Запись в БД идёт вне цикла Run.
	at := h.opts.Now().UTC()
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.opts.LastSeen.TouchLastSeen(ctx, c.userID, at); err != nil {
			logger.Errorf("ws touch last seen user=%s: %v", c.userID, err)
		}
		cancel()
		for _, ch := range changes {
			h.mu.RLock()
			ch.members = h.membersLocked(ch.topic, nil)
			ch.snap = h.presence.snapshot(ch.topic)
			h.mu.RUnlock()
			h.announcePresence(c.userID, ch)
		}
	}()
}

// unsubscribeLocked убирает c из топика. Для канала присутствия возвращает, что разослать.
func (h *Hub) unsubscribeLocked(c *Client, topic string) (presenceChange, bool) {
	delete(c.topics, topic)
	if members, ok := h.topics[topic]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	kind, _, err := model.ParseTopic(topic)
	if err != nil || kind != model.TopicPresence {
		return presenceChange{}, false
	}
	left, removed := h.presence.untrack(topic, c.userID, c.ref)
	if removed == nil {
		return presenceChange{}, false
	}
	return presenceChange{
		topic:   topic,
		left:    left,
		removed: removed,
		members: h.membersLocked(topic, nil),
		snap:    h.presence.snapshot(topic),
	}, true
}

func (h *Hub) announcePresence(userID string, ch presenceChange) {
	if ch.left {
		h.fanout(ch.members, h.frame(model.FramePresenceLeave, ch.topic, "", model.PresenceDiff{Key: userID, Metas: ch.removed}))
	}
	h.fanout(ch.members, h.frame(model.FramePresenceSync, ch.topic, "", ch.snap))
}

// membersLocked: подписчики топика, кроме except.
func (h *Hub) membersLocked(topic string, except *Client) []*Client {
	members := h.topics[topic]
	out := make([]*Client, 0, len(members))
	for m := range members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

// HandleFrame dispatches incoming client frames.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, f model.Frame) {
	switch f.Type {
	case model.FrameJoin:
		h.handleJoin(c, f)
	case model.FrameLeave:
		h.handleLeave(c, f)
	case model.FrameTrack:
		h.handleTrack(c, f)
	case model.FrameBroadcast:
		h.handleBroadcast(c, f)
	default:
		h.sendToClient(c, errorFrame(f.Ref, "unknown frame type"))
	}
}

func (h *Hub) handleJoin(c *Client, f model.Frame) {
	kind, room, err := model.ParseTopic(f.Topic)
	if err != nil {
		h.reply(c, f, model.ReplyError, "invalid topic")
		return
	}
	if !room.Has(c.userID) {
		h.reply(c, f, model.ReplyError, "forbidden")
		return
	}
	h.mu.Lock()
	members, ok := h.topics[f.Topic]
	if !ok {
		members = make(map[*Client]struct{})
		h.topics[f.Topic] = members
	}
	members[c] = struct{}{}
	c.topics[f.Topic] = struct{}{}
	var snap model.PresenceSnapshot
	if kind == model.TopicPresence {
		snap = h.presence.snapshot(f.Topic)
	}
	h.mu.Unlock()

	h.reply(c, f, model.ReplyOK, "")
	if snap != nil {
		h.sendToClient(c, h.frame(model.FramePresenceSync, f.Topic, "", snap))
	}
}

func (h *Hub) handleLeave(c *Client, f model.Frame) {
	h.mu.Lock()
	if _, joined := c.topics[f.Topic]; !joined {
		h.mu.Unlock()
		h.reply(c, f, model.ReplyError, "not joined")
		return
	}
	ch, announce := h.unsubscribeLocked(c, f.Topic)
	h.mu.Unlock()

	h.reply(c, f, model.ReplyOK, "")
	if announce {
		h.announcePresence(c.userID, ch)
	}
}

func (h *Hub) handleTrack(c *Client, f model.Frame) {
	kind, _, err := model.ParseTopic(f.Topic)
	if err != nil || kind != model.TopicPresence {
		h.reply(c, f, model.ReplyError, "track requires a presence topic")
		return
	}
	var meta model.PresenceMeta
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &meta); err != nil {
			h.reply(c, f, model.ReplyError, "invalid presence meta")
			return
		}
	}
	if meta.OnlineAt.IsZero() {
		meta.OnlineAt = h.opts.Now().UTC()
	}
	meta.ConnRef = c.ref

	h.mu.Lock()
	if _, joined := c.topics[f.Topic]; !joined {
		h.mu.Unlock()
		h.reply(c, f, model.ReplyError, "not joined")
		return
	}
	joined := h.presence.track(f.Topic, c.userID, c.ref, meta)
	members := h.membersLocked(f.Topic, nil)
	snap := h.presence.snapshot(f.Topic)
	h.mu.Unlock()

	h.reply(c, f, model.ReplyOK, "")
	if joined {
		h.fanout(members, h.frame(model.FramePresenceJoin, f.Topic, "", model.PresenceDiff{Key: c.userID, Metas: []model.PresenceMeta{meta}}))
	}
	h.fanout(members, h.frame(model.FramePresenceSync, f.Topic, "", snap))
}

// handleBroadcast пересылает эфемерное событие остальным подписчикам топика.
// user_id в payload всегда перезаписывается отправителем.
func (h *Hub) handleBroadcast(c *Client, f model.Frame) {
	kind, _, err := model.ParseTopic(f.Topic)
	if err != nil || kind == model.TopicMessages {
		h.reply(c, f, model.ReplyError, "broadcast not allowed on this topic")
		return
	}
	if f.Event == "" {
		h.reply(c, f, model.ReplyError, "event required")
		return
	}
	fields := map[string]json.RawMessage{}
	if len(f.Payload) > 0 && string(f.Payload) != "null" {
		if err := json.Unmarshal(f.Payload, &fields); err != nil {
			h.reply(c, f, model.ReplyError, "payload must be an object")
			return
		}
	}
	uid, _ := json.Marshal(c.userID)
	fields["user_id"] = uid

	h.mu.RLock()
	_, joined := c.topics[f.Topic]
	members := h.membersLocked(f.Topic, c)
	h.mu.RUnlock()
	if !joined {
		h.reply(c, f, model.ReplyError, "not joined")
		return
	}

	h.fanout(members, h.frame(model.FrameBroadcast, f.Topic, f.Event, fields))
	h.reply(c, f, model.ReplyOK, "")
}

// PublishChange раздаёт изменение строки messages подписчикам топика комнаты.
func (h *Hub) PublishChange(ev model.ChangeEvent) {
	room, err := ev.Record.Room()
	if err != nil {
		logger.Errorf("ws publish change %s: %v", ev.Record.ID, err)
		return
	}
	topic := room.Topic(model.TopicMessages)
	h.mu.RLock()
	members := h.membersLocked(topic, nil)
	h.mu.RUnlock()
	if len(members) == 0 {
		return
	}
	h.fanout(members, h.frame(model.FrameChange, topic, string(ev.Type), ev.Record))
}

func (h *Hub) frame(typ model.FrameType, topic, event string, payload any) model.Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("ws encode %s payload: %v", typ, err)
		return errorFrame("", "internal error")
	}
	return model.Frame{Type: typ, Topic: topic, Event: event, Payload: raw}
}

func (h *Hub) reply(c *Client, req model.Frame, status, reason string) {
	if req.Ref == "" && status == model.ReplyOK {
		return
	}
	f := h.frame(model.FrameReply, req.Topic, "", model.ReplyPayload{Status: status, Reason: reason})
	f.Ref = req.Ref
	h.sendToClient(c, f)
}

func errorFrame(ref, reason string) model.Frame {
	raw, _ := json.Marshal(model.ReplyPayload{Status: model.ReplyError, Reason: reason})
	return model.Frame{Type: model.FrameError, Ref: ref, Payload: raw}
}

func (h *Hub) fanout(clients []*Client, f model.Frame) {
	for _, c := range clients {
		h.sendToClient(c, f)
	}
}

func (h *Hub) sendToClient(c *Client, f model.Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		metrics.SlowClientsDropped.Inc()
		c.Close()
	}
}

// Accept переводит запрос в WebSocket и регистрирует подключение userID.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, userID string, upgrader *websocket.Upgrader) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(h, conn, userID)
	client.Start(ctx, cancel)
	h.Register(client)
	return nil
}
