package store

import (
	"context"
	"fmt"

	"github.com/nkozdemir/character-chat-app/internal/models"
)

// ListChats returns all of the user's chat sessions ordered by last
// activity, newest first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona_id, persona_name, persona_subtitle, persona_emoji, persona_gradient, last_message, created_at, updated_at
		 FROM chats WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []models.ChatSession
	for rows.Next() {
		var c models.ChatSession
		if err := rows.Scan(&c.ID, &c.PersonaID, &c.PersonaName, &c.PersonaSubtitle, &c.PersonaEmoji, &c.PersonaGradient, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat loads one session. Returns ErrNotFound when absent.
func (s *Store) GetChat(ctx context.Context, userID, chatID string) (*models.ChatSession, error) {
	var c models.ChatSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, persona_id, persona_name, persona_subtitle, persona_emoji, persona_gradient, last_message, created_at, updated_at
		 FROM chats WHERE user_id = ? AND id = ?`,
		userID, chatID,
	).Scan(&c.ID, &c.PersonaID, &c.PersonaName, &c.PersonaSubtitle, &c.PersonaEmoji, &c.PersonaGradient, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListMessages returns a chat's messages in createdAt ascending order, with
// insertion order as the tiebreaker.
func (s *Store) ListMessages(ctx context.Context, userID, chatID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at
		 FROM messages WHERE user_id = ? AND chat_id = ? ORDER BY created_at ASC, seq ASC`,
		userID, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
