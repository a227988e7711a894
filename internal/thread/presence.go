package thread

import (
	"context"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

func (t *Thread) handlePresenceSync(s model.PresenceSnapshot) {
	online := false
	for key, metas := range s {
		if t.isOther(key) && len(metas) > 0 {
			online = true
			break
		}
	}

	t.mu.Lock()
	if t.state != StateSubscribed || t.presence.Online == online {
		t.mu.Unlock()
		return
	}
	t.presence.Online = online
	t.mu.Unlock()
	t.emit()
}

// handlePresenceLeave переводит собеседника в offline и один раз читает его
// сохранённый last_seen_at для подписи «был в сети».
func (t *Thread) handlePresenceLeave(d model.PresenceDiff) {
	if !t.isOther(d.Key) {
		return
	}
	t.mu.Lock()
	if t.state != StateSubscribed {
		t.mu.Unlock()
		return
	}
	t.presence.Online = false
	ctx := t.ctx
	t.goLocked(func() { t.fetchLastSeen(ctx) })
	t.mu.Unlock()
	t.emit()
}

func (t *Thread) fetchLastSeen(ctx context.Context) {
	p, err := t.profiles.GetProfile(ctx, t.other)
	if err != nil {
		logger.Errorf("thread %s: last seen of %s: %v", t.room, t.other, err)
		return
	}
	if p.LastSeenAt == nil {
		return
	}
	ts := *p.LastSeenAt

	t.mu.Lock()
	if t.state != StateSubscribed {
		t.mu.Unlock()
		return
	}
	t.presence.LastSeenAt = &ts
	t.mu.Unlock()
	t.emit()
}
