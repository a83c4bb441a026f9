package domain

import "time"

// ChatMessage is an immutable message of a coin room.
type ChatMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Timestamp is assigned by the server; nil until acknowledged.
	Timestamp *time.Time `json:"timestamp"`
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
}

// Author identifies the sender of a message.
type Author struct {
	ID          string
	DisplayName string
}

// Resolved reports whether both identifier and display name are known.
func (a Author) Resolved() bool {
	return a.ID != "" && a.DisplayName != ""
}
