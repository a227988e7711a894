package model

import "time"

// Message: личное сообщение между двумя участниками события.
// После создания меняется только read_at (null → время прочтения).
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender_id"`
	ReceiverID string     `json:"receiver_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

// MaxContentLength: ограничение длины текста сообщения (в символах).
const MaxContentLength = 4000

// Involves сообщает, что сообщение принадлежит паре {a, b} (в любом направлении).
func (m *Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Counterparty возвращает второго участника относительно viewer ("" если viewer не участник).
func (m *Message) Counterparty(viewer string) string {
	switch viewer {
	case m.SenderID:
		return m.ReceiverID
	case m.ReceiverID:
		return m.SenderID
	}
	return ""
}

// Room возвращает идентификатор комнаты пары участников.
func (m *Message) Room() (RoomID, error) {
	return NewRoomID(m.SenderID, m.ReceiverID)
}
