package model

import "time"

// Profile: краткий профиль участника (имя, аватар, последний визит).
type Profile struct {
	ID         string     `json:"id"`
	FullName   string     `json:"full_name"`
	AvatarURL  string     `json:"avatar_url"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DisplayName возвращает имя для уведомлений и заголовков.
func (p *Profile) DisplayName() string {
	if p == nil || p.FullName == "" {
		return ""
	}
	return p.FullName
}
