package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/metrics"
)

// SubscriptionStore: хранилище подписок push-сервиса.
type SubscriptionStore interface {
	Add(ctx context.Context, userID string, sub Subscription) error
	List(ctx context.Context, userID string) ([]Subscription, error)
	Remove(ctx context.Context, userID, endpoint string) error
}

// Sender доставляет уведомления по всем подпискам пользователя через VAPID.
type Sender struct {
	store SubscriptionStore
	vapid *webpush.Options
}

// NewSender создаёт отправителя. keys == nil: подписки хранятся, отправка не выполняется.
func NewSender(store SubscriptionStore, keys *VAPIDKeys, subscriber string) *Sender {
	s := &Sender{store: store}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		s.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return s
}

// Enabled: заданы ли VAPID-ключи.
func (s *Sender) Enabled() bool { return s.vapid != nil }

// Deliver отправляет n на все подписки userID и удаляет те, что ответили 404/410.
// Возвращает число успешных доставок.
func (s *Sender) Deliver(ctx context.Context, userID string, n Notification) (int, error) {
	subs, err := s.store.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.vapid == nil || len(subs) == 0 {
		return 0, nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("push payload: %w", err)
	}
	delivered := 0
	for i := range subs {
		sub := &subs[i]
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, s.vapid)
		if err != nil {
			metrics.PushNotifications.WithLabelValues("error").Inc()
			logger.Errorf("push send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			metrics.PushNotifications.WithLabelValues("expired").Inc()
			if err := s.store.Remove(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push remove expired: %v", err)
			}
		case resp.StatusCode >= 300:
			metrics.PushNotifications.WithLabelValues("rejected").Inc()
			logger.Errorf("push send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		default:
			metrics.PushNotifications.WithLabelValues("delivered").Inc()
			delivered++
		}
	}
	return delivered, nil
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
