package model

import (
	"encoding/json"
	"time"
)

type FrameType string

const (
	// клиент → сервер
	FrameJoin      FrameType = "join"
	FrameLeave     FrameType = "leave"
	FrameTrack     FrameType = "track"
	FrameBroadcast FrameType = "broadcast"

	// сервер → клиент
	FrameReply         FrameType = "reply"
	FrameChange        FrameType = "change"
	FramePresenceSync  FrameType = "presence_sync"
	FramePresenceJoin  FrameType = "presence_join"
	FramePresenceLeave FrameType = "presence_leave"
	FrameError         FrameType = "error"
)

// Frame: единица обмена по WebSocket в обе стороны.
type Frame struct {
	Type    FrameType       `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChangeType: тип изменения строки в ленте изменений.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
)

// ChangeEvent: изменение строки messages, доставляемое подписчикам комнаты.
type ChangeEvent struct {
	Type   ChangeType `json:"type"`
	Record Message    `json:"record"`
}

// PresenceMeta: полезная нагрузка heartbeat одного подключения.
type PresenceMeta struct {
	OnlineAt time.Time `json:"online_at"`
	ConnRef  string    `json:"conn_ref,omitempty"`
}

// PresenceSnapshot: полный состав канала присутствия: ключ пользователя → его подключения.
type PresenceSnapshot map[string][]PresenceMeta

// Has сообщает, есть ли у key хотя бы одно живое подключение.
func (s PresenceSnapshot) Has(key string) bool {
	return len(s[key]) > 0
}

// PresenceDiff: событие входа/выхода ключа из канала.
type PresenceDiff struct {
	Key   string         `json:"key"`
	Metas []PresenceMeta `json:"metas"`
}

// PresenceState: производное состояние собеседника для заголовка беседы.
type PresenceState struct {
	UserID     string     `json:"user_id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// EventTyping: имя broadcast-события набора текста.
const EventTyping = "typing"

// TypingSignal: эфемерный сигнал «печатает», без хранения.
type TypingSignal struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id,omitempty"`
}

// ReplyPayload: ответ сервера на join/leave/track/broadcast с тем же ref.
type ReplyPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	ReplyOK    = "ok"
	ReplyError = "error"
)
