package models

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a chat session. Persisted messages are
// append-only and ordered by CreatedAt ascending. Streaming marks the
// transient client-side projection that is never written to the store.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Streaming bool      `json:"streaming,omitempty"`
}
