package handler

import (
	"context"
	"time"

	"github.com/creatif-sam/ambf-connect/internal/push"
)

// Notifier: отправка пуша пользователю (push.Client). Ошибки доставки не возвращаются.
type Notifier interface {
	Notify(ctx context.Context, userID string, n push.Notification)
}

// notifyAsync отправляет пуш в фоне, не задерживая ответ клиенту.
func notifyAsync(n Notifier, userID string, note push.Notification) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n.Notify(ctx, userID, note)
	}()
}
