package models

import "time"

// ChatSession is the single persistent conversation between one user and one
// persona. The session id equals the persona id, so at most one session per
// (user, persona) pair can exist.
type ChatSession struct {
	ID              string    `json:"id"`
	PersonaID       string    `json:"persona_id"`
	PersonaName     string    `json:"persona_name"`
	PersonaSubtitle string    `json:"persona_subtitle"`
	PersonaEmoji    string    `json:"persona_emoji"`
	PersonaGradient string    `json:"persona_gradient"`
	LastMessage     string    `json:"last_message"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
