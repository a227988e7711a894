package thread

import (
	"context"
	"encoding/json"
	"time"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

// Keystroke публикует сигнал набора текста. Каждое нажатие: отдельная публикация.
func (t *Thread) Keystroke(ctx context.Context) error {
	t.mu.Lock()
	closed := t.state == StateClosed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return t.rt.Broadcast(ctx, t.room.Topic(model.TopicTyping), model.EventTyping, model.TypingSignal{
		UserID: t.self,
		RoomID: t.room.String(),
	})
}

// handleTyping включает индикатор и перезапускает таймер затухания.
func (t *Thread) handleTyping(raw json.RawMessage) {
	var sig model.TypingSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		logger.Errorf("thread %s: typing payload: %v", t.room, err)
		return
	}
	if !t.isOther(sig.UserID) {
		return
	}

	t.mu.Lock()
	if t.state != StateSubscribed {
		t.mu.Unlock()
		return
	}
	if t.typingTimer != nil {
		t.typingTimer.Stop()
	}
	t.typingGen++
	gen := t.typingGen
	wasTyping := t.typing
	t.typing = true
	t.typingTimer = time.AfterFunc(t.decay, func() { t.expireTyping(gen) })
	t.mu.Unlock()

	if !wasTyping {
		t.emit()
	}
}

func (t *Thread) expireTyping(gen uint64) {
	t.mu.Lock()
	if gen != t.typingGen || !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.typingTimer = nil
	t.mu.Unlock()
	t.emit()
}

func (t *Thread) stopTypingLocked() {
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
	t.typingGen++
	t.typing = false
}
