package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nkozdemir/character-chat-app/internal/config"
)

// ErrNotFound is returned when a scoped record does not exist.
var ErrNotFound = sql.ErrNoRows

// Store is the document layer for users, chat sessions, and messages, laid
// out as users/{uid}/chats/{chatId}/messages/{messageId}. Mutations fan out
// change notifications so live views can re-query.
type Store struct {
	db  *sql.DB
	hub *watchHub
}

// Open connects to the configured database and wraps it in a Store.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One connection keeps writers serialized and makes :memory:
		// databases behave, each sqlite connection would otherwise get
		// its own copy.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		db, err = sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, hub: newWatchHub()}, nil
}

// DB exposes the underlying handle for collaborators that manage their own
// tables (the auth service).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var (
	defaultStore *Store
	initOnce     sync.Once
	initErr      error
)

// Init opens, migrates, and memoizes the process-wide store. Repeated calls
// return the first result. Components should still take the handle
// explicitly so tests can substitute their own.
func Init(cfg config.DatabaseConfig) (*Store, error) {
	initOnce.Do(func() {
		s, err := Open(cfg)
		if err != nil {
			initErr = err
			return
		}
		if err := s.Migrate(cfg.Driver); err != nil {
			s.Close()
			initErr = err
			return
		}
		defaultStore = s
	})
	return defaultStore, initErr
}

// Default returns the store created by Init, or nil before initialization.
func Default() *Store {
	return defaultStore
}

// Migrate ensures the required tables are present.
func (s *Store) Migrate(driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chats (
				user_id TEXT NOT NULL,
				id TEXT NOT NULL,
				persona_id TEXT NOT NULL,
				persona_name TEXT NOT NULL,
				persona_subtitle TEXT NOT NULL DEFAULT '',
				persona_emoji TEXT NOT NULL DEFAULT '',
				persona_gradient TEXT NOT NULL DEFAULT '',
				last_message TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (user_id, id),
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				user_id TEXT NOT NULL,
				chat_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(user_id, chat_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS password_resets (
				token TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(64) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				display_name VARCHAR(255) NOT NULL DEFAULT '',
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chats (
				user_id VARCHAR(64) NOT NULL,
				id VARCHAR(64) NOT NULL,
				persona_id VARCHAR(64) NOT NULL,
				persona_name VARCHAR(255) NOT NULL,
				persona_subtitle VARCHAR(255) NOT NULL DEFAULT '',
				persona_emoji VARCHAR(16) NOT NULL DEFAULT '',
				persona_gradient VARCHAR(255) NOT NULL DEFAULT '',
				last_message MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (user_id, id),
				INDEX idx_chats_updated_at (updated_at),
				CONSTRAINT fk_chats_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				seq BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				id VARCHAR(64) NOT NULL UNIQUE,
				user_id VARCHAR(64) NOT NULL,
				chat_id VARCHAR(64) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (seq),
				INDEX idx_messages_scope (user_id, chat_id),
				CONSTRAINT fk_messages_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id VARCHAR(64) NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS password_resets (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id VARCHAR(64) NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				CONSTRAINT fk_password_resets_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// IsNotFound reports whether err is the store's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
