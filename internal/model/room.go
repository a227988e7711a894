package model

import (
	"errors"
	"strings"
)

// roomSep разделяет идентификаторы участников в RoomID.
const roomSep = ":"

var (
	ErrInvalidParticipant = errors.New("room: participant id is empty or contains ':'")
	ErrSameParticipant    = errors.New("room: participants must differ")
)

// RoomID: канонический идентификатор беседы двух участников.
// Правило нормализации: id обрезаются по пробелам и приводятся к нижнему регистру,
// меньший (побайтово) идёт первым, разделитель ":". Оба участника получают
// одинаковый RoomID без обращения к серверу.
type RoomID struct {
	a, b string
}

// NewRoomID строит RoomID для пары участников в любом порядке.
func NewRoomID(x, y string) (RoomID, error) {
	x, y = NormalizeID(x), NormalizeID(y)
	if x == "" || y == "" || strings.Contains(x, roomSep) || strings.Contains(y, roomSep) {
		return RoomID{}, ErrInvalidParticipant
	}
	if x == y {
		return RoomID{}, ErrSameParticipant
	}
	if y < x {
		x, y = y, x
	}
	return RoomID{a: x, b: y}, nil
}

// ParseRoomID разбирает строку вида "a:b" и проверяет нормализацию.
func ParseRoomID(s string) (RoomID, error) {
	parts := strings.Split(s, roomSep)
	if len(parts) != 2 {
		return RoomID{}, ErrInvalidParticipant
	}
	r, err := NewRoomID(parts[0], parts[1])
	if err != nil {
		return RoomID{}, err
	}
	if r.String() != s {
		return RoomID{}, errors.New("room: id is not in canonical form")
	}
	return r, nil
}

// NormalizeID приводит id участника к каноническому виду (trim + lower case).
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (r RoomID) String() string {
	if r.IsZero() {
		return ""
	}
	return r.a + roomSep + r.b
}

func (r RoomID) IsZero() bool { return r.a == "" }

// Participants возвращает участников в каноническом порядке.
func (r RoomID) Participants() (string, string) { return r.a, r.b }

// Has сообщает, участвует ли userID в комнате.
func (r RoomID) Has(userID string) bool {
	id := NormalizeID(userID)
	return !r.IsZero() && (id == r.a || id == r.b)
}

// Other возвращает второго участника относительно userID.
func (r RoomID) Other(userID string) string {
	switch NormalizeID(userID) {
	case r.a:
		return r.b
	case r.b:
		return r.a
	}
	return ""
}

// Topic-префиксы каналов комнаты.
const (
	TopicMessages = "messages"
	TopicPresence = "presence"
	TopicTyping   = "typing"
)

// Topic возвращает имя канала вида "<kind>:<a>:<b>".
func (r RoomID) Topic(kind string) string {
	return kind + roomSep + r.String()
}

// ParseTopic разбирает имя канала на тип и комнату.
func ParseTopic(topic string) (string, RoomID, error) {
	idx := strings.Index(topic, roomSep)
	if idx <= 0 {
		return "", RoomID{}, errors.New("room: malformed topic")
	}
	kind := topic[:idx]
	switch kind {
	case TopicMessages, TopicPresence, TopicTyping:
	default:
		return "", RoomID{}, errors.New("room: unknown topic kind")
	}
	r, err := ParseRoomID(topic[idx+1:])
	if err != nil {
		return "", RoomID{}, err
	}
	return kind, r, nil
}
