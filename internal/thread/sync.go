package thread

import (
	"sort"

	"github.com/creatif-sam/ambf-connect/internal/model"
)

func (t *Thread) handleChange(ev model.ChangeEvent) {
	rec := ev.Record
	if !t.relevant(&rec) {
		return
	}

	t.mu.Lock()
	if t.state != StateSubscribed {
		t.mu.Unlock()
		return
	}
	var changed, needRead bool
	switch ev.Type {
	case model.ChangeInsert:
		changed = t.applyInsertLocked(rec)
		needRead = changed && t.isOther(rec.SenderID) && rec.ReadAt == nil
	case model.ChangeUpdate:
		changed = t.applyUpdateLocked(rec)
	}
	if needRead {
		ctx := t.ctx
		t.goLocked(func() { t.markRead(ctx) })
	}
	t.mu.Unlock()

	if changed {
		t.emit()
	}
}

// applyInsertLocked применяет INSERT. Повтор уже известного id ничего не меняет;
// проверка id идёт до поиска оптимистичной записи, иначе повтор события
// подменил бы следующую оптимистичную запись с тем же текстом.
func (t *Thread) applyInsertLocked(rec model.Message) bool {
	if t.indexOf(rec.ID) >= 0 {
		return false
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.Optimistic && t.isSelf(rec.SenderID) && e.Content == rec.Content {
			*e = Entry{Message: rec}
			sortEntries(t.entries)
			return true
		}
	}
	t.entries = append(t.entries, Entry{Message: rec})
	sortEntries(t.entries)
	return true
}

func (t *Thread) applyUpdateLocked(rec model.Message) bool {
	i := t.indexOf(rec.ID)
	if i < 0 {
		return false
	}
	t.entries[i] = Entry{Message: rec}
	sortEntries(t.entries)
	return true
}

func (t *Thread) indexOf(id string) int {
	for i := range t.entries {
		if !t.entries[i].Optimistic && t.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// sortEntries упорядочивает ленту по created_at; порядок прихода по каналу не важен.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
