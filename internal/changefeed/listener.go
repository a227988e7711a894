// Package changefeed превращает NOTIFY messages_changes из Postgres в события
// INSERT/UPDATE для realtime-топиков комнат.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/metrics"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

// Channel: канал NOTIFY, в который пишет триггер на messages.
const Channel = "messages_changes"

// Notification: полезная нагрузка pg_notify.
type Notification struct {
	Op string `json:"op"`
	ID string `json:"id"`
}

// MessageLoader читает строку сообщения по id.
type MessageLoader interface {
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

// Publisher раздаёт событие подписчикам топика комнаты.
type Publisher interface {
	PublishChange(ev model.ChangeEvent)
}

// ParseNotification разбирает payload и проверяет тип операции.
func ParseNotification(payload string) (Notification, model.ChangeType, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, "", fmt.Errorf("changefeed: decode payload: %w", err)
	}
	if n.ID == "" {
		return n, "", errors.New("changefeed: empty id")
	}
	switch model.ChangeType(n.Op) {
	case model.ChangeInsert, model.ChangeUpdate:
		return n, model.ChangeType(n.Op), nil
	}
	return n, "", fmt.Errorf("changefeed: unsupported op %q", n.Op)
}

type Listener struct {
	pool    *pgxpool.Pool
	loader  MessageLoader
	pub     Publisher
	backoff time.Duration
}

func NewListener(pool *pgxpool.Pool, loader MessageLoader, pub Publisher) *Listener {
	return &Listener{pool: pool, loader: loader, pub: pub, backoff: time.Second}
}

// Run слушает канал до отмены ctx. Потеря соединения с БД: переподключение с паузой.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.backoff
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("changefeed: listen: %v (retry in %v)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Infof("changefeed: listening on %s", Channel)
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// Соединение в неизвестном состоянии: не возвращаем его в пул.
			_ = conn.Conn().Close(context.Background())
			return err
		}
		l.Handle(ctx, n.Payload)
	}
}

// Handle обрабатывает одно уведомление: загружает строку и публикует событие.
func (l *Listener) Handle(ctx context.Context, payload string) {
	n, typ, err := ParseNotification(payload)
	if err != nil {
		logger.Errorf("%v", err)
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	m, err := l.loader.GetByID(loadCtx, n.ID)
	if err != nil {
		logger.Errorf("changefeed: load %s: %v", n.ID, err)
		return
	}
	l.pub.PublishChange(model.ChangeEvent{Type: typ, Record: *m})
	metrics.ChangeEventsPublished.WithLabelValues(string(typ)).Inc()
}
