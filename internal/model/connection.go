package model

import "time"

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionDeclined ConnectionStatus = "declined"
)

// ConnectionRequest: запрос на знакомство (networking) от requester к addressee.
type ConnectionRequest struct {
	ID          string           `json:"id"`
	RequesterID string           `json:"requester_id"`
	AddresseeID string           `json:"addressee_id"`
	Note        string           `json:"note,omitempty"`
	Status      ConnectionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
	Requester   *Profile         `json:"requester,omitempty"`
	Addressee   *Profile         `json:"addressee,omitempty"`
}

// ConnectionList: входящие, исходящие и принятые запросы пользователя.
type ConnectionList struct {
	Incoming []ConnectionRequest `json:"incoming"`
	Outgoing []ConnectionRequest `json:"outgoing"`
	Accepted []ConnectionRequest `json:"accepted"`
}
