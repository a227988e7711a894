package realtime

import (
	"sort"

	"github.com/creatif-sam/ambf-connect/internal/model"
)

// presenceRegistry: topic → key (user id) → conn ref → meta.
// Ключ присутствует в канале, пока у него есть хотя бы одно подключение.
type presenceRegistry struct {
	topics map[string]map[string]map[string]model.PresenceMeta
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{topics: make(map[string]map[string]map[string]model.PresenceMeta)}
}

// track добавляет или обновляет meta подключения. joined: ключ только что появился в канале.
func (p *presenceRegistry) track(topic, key, ref string, meta model.PresenceMeta) (joined bool) {
	keys, ok := p.topics[topic]
	if !ok {
		keys = make(map[string]map[string]model.PresenceMeta)
		p.topics[topic] = keys
	}
	conns, ok := keys[key]
	if !ok {
		conns = make(map[string]model.PresenceMeta)
		keys[key] = conns
	}
	joined = len(conns) == 0
	conns[ref] = meta
	return joined
}

// untrack убирает подключение. left: у ключа не осталось подключений; metas: убранная meta.
func (p *presenceRegistry) untrack(topic, key, ref string) (left bool, removed []model.PresenceMeta) {
	keys, ok := p.topics[topic]
	if !ok {
		return false, nil
	}
	conns, ok := keys[key]
	if !ok {
		return false, nil
	}
	meta, ok := conns[ref]
	if !ok {
		return false, nil
	}
	delete(conns, ref)
	if len(conns) > 0 {
		return false, []model.PresenceMeta{meta}
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(p.topics, topic)
	}
	return true, []model.PresenceMeta{meta}
}

// snapshot: копия состава канала; metas отсортированы по времени входа.
func (p *presenceRegistry) snapshot(topic string) model.PresenceSnapshot {
	out := make(model.PresenceSnapshot)
	for key, conns := range p.topics[topic] {
		metas := make([]model.PresenceMeta, 0, len(conns))
		for _, m := range conns {
			metas = append(metas, m)
		}
		sort.Slice(metas, func(i, j int) bool { return metas[i].OnlineAt.Before(metas[j].OnlineAt) })
		out[key] = metas
	}
	return out
}
