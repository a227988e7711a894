package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
	"github.com/creatif-sam/ambf-connect/internal/thread"
)

const writeWait = 10 * time.Second

var ErrConnClosed = errors.New("realtime: connection closed")

// ReplyError: сервер отклонил join/leave/track.
type ReplyError struct {
	Topic  string
	Reason string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("realtime: %s: %s", e.Topic, e.Reason)
}

type topicState struct {
	refs      int
	change    func(model.ChangeEvent)
	presence  *thread.PresenceHandlers
	broadcast map[string]func(json.RawMessage)
}

// Realtime: одно WebSocket-подключение, мультиплексирующее каналы комнат.
// Кадры читает одна горутина; обработчики вызываются из неё же.
// Переподключения нет: после обрыва каналы молчат, операции возвращают ErrConnClosed.
type Realtime struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	topics  map[string]*topicState
	pending map[string]chan model.ReplyPayload

	done chan struct{}
	once sync.Once
}

// Dial подключается к wsURL (ws://host/ws), передавая токен в query access_token.
func Dial(ctx context.Context, wsURL, token string) (*Realtime, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	rt := &Realtime{
		conn:    conn,
		topics:  make(map[string]*topicState),
		pending: make(map[string]chan model.ReplyPayload),
		done:    make(chan struct{}),
	}
	go rt.readLoop()
	return rt, nil
}

// WebSocketURL строит адрес /ws из базового http(s) адреса API.
func WebSocketURL(apiBase string) string {
	base := strings.TrimSuffix(apiBase, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// Done закрывается, когда подключение оборвано или закрыто.
func (r *Realtime) Done() <-chan struct{} { return r.done }

func (r *Realtime) Close() error {
	r.writeMu.Lock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()
	r.shutdown()
	return nil
}

func (r *Realtime) shutdown() {
	r.once.Do(func() {
		close(r.done)
		r.conn.Close()
	})
}

func (r *Realtime) write(f model.Frame) error {
	select {
	case <-r.done:
		return ErrConnClosed
	default:
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return r.conn.WriteJSON(f)
}

// request отправляет кадр с новым ref и ждёт reply с тем же ref.
func (r *Realtime) request(ctx context.Context, f model.Frame) error {
	f.Ref = uuid.NewString()
	ch := make(chan model.ReplyPayload, 1)
	r.mu.Lock()
	r.pending[f.Ref] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, f.Ref)
		r.mu.Unlock()
	}()

	if err := r.write(f); err != nil {
		return err
	}
	select {
	case rep := <-ch:
		if rep.Status != model.ReplyOK {
			return &ReplyError{Topic: f.Topic, Reason: rep.Reason}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrConnClosed
	}
}

// acquire регистрирует интерес к topic; join отправляется только для первой подписки.
func (r *Realtime) acquire(ctx context.Context, topic string, set func(*topicState)) (thread.Subscription, error) {
	r.mu.Lock()
	st, ok := r.topics[topic]
	if !ok {
		st = &topicState{broadcast: map[string]func(json.RawMessage){}}
		r.topics[topic] = st
	}
	st.refs++
	set(st)
	first := st.refs == 1
	r.mu.Unlock()

	sub := &subscription{rt: r, topic: topic}
	if first {
		if err := r.request(ctx, model.Frame{Type: model.FrameJoin, Topic: topic}); err != nil {
			sub.release()
			return nil, err
		}
	}
	return sub, nil
}

// SubscribeChanges: изменения строк messages комнаты (topic messages:<room>).
func (r *Realtime) SubscribeChanges(ctx context.Context, topic string, fn func(model.ChangeEvent)) (thread.Subscription, error) {
	return r.acquire(ctx, topic, func(st *topicState) { st.change = fn })
}

// JoinPresence входит в канал присутствия и публикует meta текущего подключения.
func (r *Realtime) JoinPresence(ctx context.Context, topic string, meta model.PresenceMeta, h thread.PresenceHandlers) (thread.Subscription, error) {
	sub, err := r.acquire(ctx, topic, func(st *topicState) { st.presence = &h })
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	if err := r.request(ctx, model.Frame{Type: model.FrameTrack, Topic: topic, Payload: raw}); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

func (r *Realtime) SubscribeBroadcast(ctx context.Context, topic, event string, fn func(json.RawMessage)) (thread.Subscription, error) {
	return r.acquire(ctx, topic, func(st *topicState) { st.broadcast[event] = fn })
}

// Broadcast публикует эфемерное событие без ожидания подтверждения.
func (r *Realtime) Broadcast(_ context.Context, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.write(model.Frame{Type: model.FrameBroadcast, Topic: topic, Event: event, Payload: raw})
}

type subscription struct {
	rt    *Realtime
	topic string
	once  sync.Once
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if !s.release() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err = s.rt.request(ctx, model.Frame{Type: model.FrameLeave, Topic: s.topic})
		if errors.Is(err, ErrConnClosed) {
			err = nil
		}
	})
	return err
}

// release снимает одну подписку; true: подписок на topic больше нет.
func (s *subscription) release() bool {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()
	st, ok := s.rt.topics[s.topic]
	if !ok {
		return false
	}
	st.refs--
	if st.refs > 0 {
		return false
	}
	delete(s.rt.topics, s.topic)
	return true
}

func (r *Realtime) readLoop() {
	defer r.shutdown()
	for {
		var f model.Frame
		if err := r.conn.ReadJSON(&f); err != nil {
			select {
			case <-r.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Errorf("realtime read: %v", err)
				}
			}
			return
		}
		r.dispatch(f)
	}
}

// dispatch вызывает обработчики прямо в readLoop; долгий обработчик задерживает все кадры.
func (r *Realtime) dispatch(f model.Frame) {
	switch f.Type {
	case model.FrameReply:
		var rep model.ReplyPayload
		if err := json.Unmarshal(f.Payload, &rep); err != nil {
			logger.Errorf("realtime reply payload: %v", err)
			return
		}
		r.mu.Lock()
		ch := r.pending[f.Ref]
		r.mu.Unlock()
		if ch != nil {
			ch <- rep
		} else if rep.Status != model.ReplyOK {
			logger.Errorf("realtime %s: %s", f.Topic, rep.Reason)
		}
		return
	case model.FrameError:
		logger.Errorf("realtime error frame: %s", string(f.Payload))
		return
	}

	r.mu.Lock()
	st := r.topics[f.Topic]
	var (
		change    func(model.ChangeEvent)
		presence  *thread.PresenceHandlers
		broadcast func(json.RawMessage)
	)
	if st != nil {
		change, presence, broadcast = st.change, st.presence, st.broadcast[f.Event]
	}
	r.mu.Unlock()
	if st == nil {
		return
	}

	switch f.Type {
	case model.FrameChange:
		if change == nil {
			return
		}
		var m model.Message
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			logger.Errorf("realtime change payload: %v", err)
			return
		}
		change(model.ChangeEvent{Type: model.ChangeType(f.Event), Record: m})
	case model.FramePresenceSync:
		if presence == nil || presence.OnSync == nil {
			return
		}
		var snap model.PresenceSnapshot
		if err := json.Unmarshal(f.Payload, &snap); err != nil {
			logger.Errorf("realtime presence sync: %v", err)
			return
		}
		presence.OnSync(snap)
	case model.FramePresenceJoin, model.FramePresenceLeave:
		if presence == nil {
			return
		}
		fn := presence.OnJoin
		if f.Type == model.FramePresenceLeave {
			fn = presence.OnLeave
		}
		if fn == nil {
			return
		}
		var diff model.PresenceDiff
		if err := json.Unmarshal(f.Payload, &diff); err != nil {
			logger.Errorf("realtime presence diff: %v", err)
			return
		}
		fn(diff)
	case model.FrameBroadcast:
		if broadcast != nil {
			broadcast(f.Payload)
		}
	}
}

var _ thread.Realtime = (*Realtime)(nil)
