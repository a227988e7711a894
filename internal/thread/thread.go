// Package thread держит состояние открытой личной беседы на стороне клиента:
// историю сообщений с оптимистичной отправкой, синхронизацию по ленте изменений,
// присутствие собеседника и индикатор набора текста.
//
// Жизненный цикл: New → Open (Idle → Subscribed) → Close (Closed).
// Колбэки realtime приходят из горутины чтения транспорта; состояние защищено мьютексом,
// OnChange вызывается вне блокировки.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

// TypingDecay: сколько индикатор «печатает» держится после последнего сигнала.
const TypingDecay = 2 * time.Second

var (
	ErrClosed        = errors.New("thread: closed")
	ErrAlreadyOpened = errors.New("thread: already opened")
)

// Store: хранилище сообщений (вставка, выборка пары, отметка прочтения).
type Store interface {
	ListThread(ctx context.Context, otherID string) ([]model.Message, error)
	SendMessage(ctx context.Context, receiverID, content string) (*model.Message, error)
	// MarkRead отмечает прочитанными сообщения от senderID текущему пользователю.
	MarkRead(ctx context.Context, senderID string) (int, error)
}

// Profiles: чтение профиля собеседника и запись собственного last_seen_at.
type Profiles interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	TouchLastSeen(ctx context.Context) error
}

// PresenceHandlers: обработчики событий канала присутствия.
type PresenceHandlers struct {
	OnSync  func(model.PresenceSnapshot)
	OnJoin  func(model.PresenceDiff)
	OnLeave func(model.PresenceDiff)
}

// Subscription: активная подписка на канал.
type Subscription interface {
	Unsubscribe() error
}

// Realtime: подписки на каналы комнаты. Переподключение не предусмотрено:
// оборванный канал молчит до повторного открытия беседы.
// Обработчики вызываются из горутины чтения транспорта и не должны блокироваться.
type Realtime interface {
	SubscribeChanges(ctx context.Context, topic string, fn func(model.ChangeEvent)) (Subscription, error)
	JoinPresence(ctx context.Context, topic string, meta model.PresenceMeta, h PresenceHandlers) (Subscription, error)
	SubscribeBroadcast(ctx context.Context, topic, event string, fn func(json.RawMessage)) (Subscription, error)
	Broadcast(ctx context.Context, topic, event string, payload any) error
}

type State int

const (
	StateIdle State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Entry: сообщение в ленте беседы; Optimistic: создано локально и ещё не подтверждено.
type Entry struct {
	model.Message
	Optimistic bool `json:"optimistic,omitempty"`
}

// Snapshot: копия состояния беседы для отрисовки.
type Snapshot struct {
	State    State               `json:"state"`
	Room     string              `json:"room"`
	Messages []Entry             `json:"messages"`
	Presence model.PresenceState `json:"presence"`
	Typing   bool                `json:"typing"`
}

type Options struct {
	Store    Store
	Profiles Profiles
	Realtime Realtime

	// TypingDecay по умолчанию равен TypingDecay.
	TypingDecay time.Duration
	// OnChange вызывается после каждого видимого изменения состояния.
	OnChange func(Snapshot)

	Now   func() time.Time
	NewID func() string
}

type Thread struct {
	self  string
	other string
	room  model.RoomID

	store    Store
	profiles Profiles
	rt       Realtime
	decay    time.Duration
	onChange func(Snapshot)
	now      func() time.Time
	newID    func() string

	mu          sync.Mutex
	state       State
	entries     []Entry
	presence    model.PresenceState
	typing      bool
	typingTimer *time.Timer
	typingGen   uint64
	subs        []Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	bg          sync.WaitGroup
}

// New создаёт беседу selfID с otherID. Store и Realtime обязательны.
func New(selfID, otherID string, opts Options) (*Thread, error) {
	room, err := model.NewRoomID(selfID, otherID)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Realtime == nil || opts.Profiles == nil {
		return nil, errors.New("thread: store, profiles and realtime are required")
	}
	t := &Thread{
		self:     model.NormalizeID(selfID),
		other:    model.NormalizeID(otherID),
		room:     room,
		store:    opts.Store,
		profiles: opts.Profiles,
		rt:       opts.Realtime,
		decay:    opts.TypingDecay,
		onChange: opts.OnChange,
		now:      opts.Now,
		newID:    opts.NewID,
		ctx:      context.Background(),
	}
	if t.decay <= 0 {
		t.decay = TypingDecay
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.newID == nil {
		t.newID = func() string { return uuid.New().String() }
	}
	t.presence.UserID = t.other
	return t, nil
}

// Room возвращает идентификатор комнаты беседы.
func (t *Thread) Room() model.RoomID { return t.room }

// Open загружает историю, отмечает входящие прочитанными и подписывается на
// три канала комнаты: изменения сообщений, присутствие и набор текста.
func (t *Thread) Open(ctx context.Context) error {
	defer logger.DeferLogDuration("thread.Open", time.Now())()
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	switch state {
	case StateClosed:
		return ErrClosed
	case StateSubscribed:
		return ErrAlreadyOpened
	}

	history, err := t.store.ListThread(ctx, t.other)
	if err != nil {
		return fmt.Errorf("thread.Open history: %w", err)
	}

	entries := make([]Entry, 0, len(history))
	hasUnread := false
	for _, m := range history {
		if !t.relevant(&m) {
			continue
		}
		if t.isOther(m.SenderID) && m.ReadAt == nil {
			hasUnread = true
		}
		entries = append(entries, Entry{Message: m})
	}

	t.mu.Lock()
	switch t.state {
	case StateClosed:
		t.mu.Unlock()
		return ErrClosed
	case StateSubscribed:
		t.mu.Unlock()
		return ErrAlreadyOpened
	}
	t.entries = entries
	sortEntries(t.entries)
	t.state = StateSubscribed
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	if hasUnread {
		t.markRead(ctx)
	}
	t.subscribe(ctx)
	t.emit()
	return nil
}

func (t *Thread) subscribe(ctx context.Context) {
	sub, err := t.rt.SubscribeChanges(ctx, t.room.Topic(model.TopicMessages), t.handleChange)
	if err != nil {
		logger.Errorf("thread %s: subscribe messages: %v", t.room, err)
	} else {
		t.addSub(sub)
	}

	sub, err = t.rt.JoinPresence(ctx, t.room.Topic(model.TopicPresence), model.PresenceMeta{OnlineAt: t.now().UTC()}, PresenceHandlers{
		OnSync:  t.handlePresenceSync,
		OnLeave: t.handlePresenceLeave,
	})
	if err != nil {
		logger.Errorf("thread %s: join presence: %v", t.room, err)
	} else {
		t.addSub(sub)
	}

	sub, err = t.rt.SubscribeBroadcast(ctx, t.room.Topic(model.TopicTyping), model.EventTyping, t.handleTyping)
	if err != nil {
		logger.Errorf("thread %s: subscribe typing: %v", t.room, err)
	} else {
		t.addSub(sub)
	}
}

func (t *Thread) addSub(sub Subscription) {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil {
			logger.Errorf("thread %s: unsubscribe late subscription: %v", t.room, err)
		}
		return
	}
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
}

// Send показывает сообщение сразу (оптимистично) и отправляет его в хранилище.
// Пустой текст молча игнорируется. При ошибке вставки оптимистичная запись остаётся.
func (t *Thread) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.entries = append(t.entries, Entry{
		Message: model.Message{
			ID:         t.newID(),
			SenderID:   t.self,
			ReceiverID: t.other,
			Content:    content,
			CreatedAt:  t.now().UTC(),
		},
		Optimistic: true,
	})
	sortEntries(t.entries)
	t.mu.Unlock()
	t.emit()

	if _, err := t.store.SendMessage(ctx, t.other, content); err != nil {
		logger.Errorf("thread %s: send: %v", t.room, err)
		return fmt.Errorf("thread.Send: %w", err)
	}
	return nil
}

// Close гасит таймер набора, best-effort записывает собственный last_seen_at и
// только потом отписывается: собеседник читает профиль, как только видит leave.
func (t *Thread) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return nil
	}
	wasOpen := t.state == StateSubscribed
	t.state = StateClosed
	subs := t.subs
	t.subs = nil
	t.stopTypingLocked()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	if wasOpen {
		if err := t.profiles.TouchLastSeen(ctx); err != nil {
			logger.Errorf("thread %s: touch last seen: %v", t.room, err)
		}
	}
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			logger.Errorf("thread %s: unsubscribe: %v", t.room, err)
		}
	}
	t.bg.Wait()
	return nil
}

// goLocked запускает сетевой побочный эффект вне горутины чтения транспорта.
// Вызывается под t.mu в состоянии Subscribed; Close дожидается завершения.
func (t *Thread) goLocked(fn func()) {
	t.bg.Add(1)
	go func() {
		defer t.bg.Done()
		fn()
	}()
}

// Snapshot возвращает копию текущего состояния.
func (t *Thread) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Thread) snapshotLocked() Snapshot {
	msgs := make([]Entry, len(t.entries))
	copy(msgs, t.entries)
	p := t.presence
	if p.LastSeenAt != nil {
		ts := *p.LastSeenAt
		p.LastSeenAt = &ts
	}
	return Snapshot{
		State:    t.state,
		Room:     t.room.String(),
		Messages: msgs,
		Presence: p,
		Typing:   t.typing,
	}
}

func (t *Thread) emit() {
	if t.onChange == nil {
		return
	}
	t.onChange(t.Snapshot())
}

func (t *Thread) markRead(ctx context.Context) {
	n, err := t.store.MarkRead(ctx, t.other)
	if err != nil {
		logger.Errorf("thread %s: mark read: %v", t.room, err)
		return
	}
	logger.Debugf("thread %s: marked %d messages read", t.room, n)
}

func (t *Thread) isOther(id string) bool { return model.NormalizeID(id) == t.other }

func (t *Thread) isSelf(id string) bool { return model.NormalizeID(id) == t.self }

// relevant: сообщение принадлежит ровно паре участников беседы.
func (t *Thread) relevant(m *model.Message) bool {
	return (t.isSelf(m.SenderID) && t.isOther(m.ReceiverID)) ||
		(t.isOther(m.SenderID) && t.isSelf(m.ReceiverID))
}
