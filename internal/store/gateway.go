package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkozdemir/character-chat-app/internal/models"
	"github.com/nkozdemir/character-chat-app/internal/persona"
)

// EnsureSession idempotently upserts the chat session for (user, persona).
// A new session starts with an empty last-message preview; an existing one
// only has its persona display fields and updated_at refreshed, leaving the
// preview untouched.
func (s *Store) EnsureSession(ctx context.Context, userID string, p persona.Persona) (*models.ChatSession, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if p.ID == "" {
		return nil, errors.New("persona id is required")
	}

	now := time.Now().UTC()
	existing, err := s.GetChat(ctx, userID, p.ID)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx,
			`UPDATE chats SET persona_name = ?, persona_subtitle = ?, persona_emoji = ?, persona_gradient = ?, updated_at = ?
			 WHERE user_id = ? AND id = ?`,
			p.Name, p.Subtitle, p.AvatarEmoji, p.Gradient, now, userID, p.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("refresh session: %w", err)
		}
		existing.PersonaName = p.Name
		existing.PersonaSubtitle = p.Subtitle
		existing.PersonaEmoji = p.AvatarEmoji
		existing.PersonaGradient = p.Gradient
		existing.UpdatedAt = now
		s.hub.notify(chatsTopic(userID))
		return existing, nil
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO chats (user_id, id, persona_id, persona_name, persona_subtitle, persona_emoji, persona_gradient, last_message, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
			userID, p.ID, p.ID, p.Name, p.Subtitle, p.AvatarEmoji, p.Gradient, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		s.hub.notify(chatsTopic(userID))
		return &models.ChatSession{
			ID:              p.ID,
			PersonaID:       p.ID,
			PersonaName:     p.Name,
			PersonaSubtitle: p.Subtitle,
			PersonaEmoji:    p.AvatarEmoji,
			PersonaGradient: p.Gradient,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, nil
	default:
		return nil, err
	}
}

// AppendMessage stores a new message, then bumps the parent session's
// last-message preview and updated_at. The two writes are deliberately not
// wrapped in a transaction: the preview is a denormalized convenience and a
// crash between them only leaves it stale. Content is whitespace-trimmed
// once here so the stored message and the preview always agree, whichever
// caller produced them.
func (s *Store) AppendMessage(ctx context.Context, userID, chatID string, role models.Role, content string) (*models.Message, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chats WHERE user_id = ? AND id = ?)`,
		userID, chatID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, userID, chatID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET last_message = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		content, msg.CreatedAt, userID, chatID,
	); err != nil {
		return nil, fmt.Errorf("update session preview: %w", err)
	}

	s.hub.notify(messagesTopic(userID, chatID))
	s.hub.notify(chatsTopic(userID))
	return msg, nil
}

// DeleteSession removes every message under the session and then the session
// record itself. The session row is only deleted once the message deletions
// have been confirmed, so no orphaned messages can remain.
func (s *Store) DeleteSession(ctx context.Context, userID, chatID string) error {
	if userID == "" || chatID == "" {
		return errors.New("user id and chat id are required")
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND chat_id = ?`, userID, chatID,
	); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chats WHERE user_id = ? AND id = ?`, userID, chatID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.hub.notify(messagesTopic(userID, chatID))
	s.hub.notify(chatsTopic(userID))
	return nil
}
