package push

import (
	"unicode/utf8"

	"github.com/creatif-sam/ambf-connect/internal/model"
)

// Notification: полезная нагрузка, которую service worker показывает как уведомление.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

const (
	maxBodyBytes        = 120
	defaultMessageTitle = "New message"
	ellipsis            = "..."
)

// ForMessage строит уведомление о новом сообщении для получателя.
func ForMessage(sender *model.Profile, m *model.Message) Notification {
	title := sender.DisplayName()
	if title == "" {
		title = defaultMessageTitle
	}
	return Notification{
		Title: title,
		Body:  truncate(m.Content, maxBodyBytes),
		URL:   "/messages/" + m.SenderID,
	}
}

// ForConnectionRequest: адресату пришёл запрос на знакомство.
func ForConnectionRequest(requester *model.Profile, c *model.ConnectionRequest) Notification {
	name := requester.DisplayName()
	if name == "" {
		name = "Someone"
	}
	body := name + " wants to connect"
	if c.Note != "" {
		body = truncate(c.Note, maxBodyBytes)
	}
	return Notification{Title: "New connection request", Body: body, URL: "/network"}
}

// ForConnectionAccepted: инициатору ответили согласием.
func ForConnectionAccepted(addressee *model.Profile) Notification {
	name := addressee.DisplayName()
	if name == "" {
		name = "Your contact"
	}
	return Notification{Title: "Connection accepted", Body: name + " accepted your request", URL: "/network"}
}

// truncate обрезает s до max байт (включая "..."), не разрезая UTF-8 символы.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
