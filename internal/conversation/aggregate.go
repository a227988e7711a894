// Package conversation группирует плоский список сообщений в список бесед (inbox).
package conversation

import (
	"sort"

	"github.com/creatif-sam/ambf-connect/internal/model"
)

// Conversation: одна строка inbox: собеседник и последнее сообщение с ним.
type Conversation struct {
	Counterparty model.Profile `json:"counterparty"`
	LastMessage  model.Message `json:"last_message"`
	UnreadCount  int           `json:"unread_count"`
}

// Aggregate возвращает по одной беседе на каждого собеседника viewer.
// Последним считается сообщение с максимальным created_at; при равенстве
// побеждает встреченное первым во входном списке. Результат отсортирован по
// времени последнего сообщения, новые сверху.
func Aggregate(viewer string, messages []model.Message, profiles map[string]model.Profile) []Conversation {
	index := make(map[string]int, len(messages))
	out := make([]Conversation, 0, 8)
	for _, m := range messages {
		if m.SenderID == m.ReceiverID {
			continue
		}
		other := m.Counterparty(viewer)
		if other == "" {
			continue
		}
		unread := 0
		if m.ReceiverID == viewer && m.ReadAt == nil {
			unread = 1
		}
		i, ok := index[other]
		if !ok {
			p, found := profiles[other]
			if !found {
				p = model.Profile{ID: other}
			}
			index[other] = len(out)
			out = append(out, Conversation{Counterparty: p, LastMessage: m, UnreadCount: unread})
			continue
		}
		out[i].UnreadCount += unread
		if m.CreatedAt.After(out[i].LastMessage.CreatedAt) {
			out[i].LastMessage = m
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out
}

// Counterparties возвращает уникальные id собеседников viewer в порядке появления.
func Counterparties(viewer string, messages []model.Message) []string {
	seen := make(map[string]struct{}, len(messages))
	ids := make([]string, 0, 8)
	for _, m := range messages {
		other := m.Counterparty(viewer)
		if other == "" || other == viewer {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids
}
