// Package state persists the small amount of bridge metadata that must
// survive a process restart: the relay pairing, the last focused
// conversation, the pause flag, and per-conversation delivery cursors.
package state

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// Pairing is the single authorized relay identity bound to this bridge.
type Pairing struct {
	OwnerID int64
	ChatID  int64
}

// Pairing returns the active pairing, if one exists.
func (s *Store) Pairing() (Pairing, bool, error) {
	var p Pairing
	err := s.db.QueryRow("SELECT owner_id, chat_id FROM pairing WHERE id = 1").
		Scan(&p.OwnerID, &p.ChatID)
	if err == sql.ErrNoRows {
		return Pairing{}, false, nil
	}
	if err != nil {
		return Pairing{}, false, err
	}
	return p, true, nil
}

// SetPairing records the owner lock. Replaces any existing row.
func (s *Store) SetPairing(p Pairing) error {
	_, err := s.db.Exec(`INSERT INTO pairing (id, owner_id, chat_id) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, chat_id = excluded.chat_id`,
		p.OwnerID, p.ChatID)
	return err
}

// SetChatID updates the delivery chat without touching the owner lock.
func (s *Store) SetChatID(chatID int64) error {
	_, err := s.db.Exec("UPDATE pairing SET chat_id = ? WHERE id = 1", chatID)
	return err
}

// ClearPairing removes the owner lock entirely.
func (s *Store) ClearPairing() error {
	_, err := s.db.Exec("DELETE FROM pairing WHERE id = 1")
	return err
}

// FocusPointer is the persisted last-focus state used to re-attach to the
// same conversation after a restart.
type FocusPointer struct {
	Workspace         string
	ConversationID    string
	ConversationTitle string
}

func (s *Store) Focus() (FocusPointer, bool, error) {
	var f FocusPointer
	err := s.db.QueryRow("SELECT workspace, conversation_id, conversation_title FROM focus WHERE id = 1").
		Scan(&f.Workspace, &f.ConversationID, &f.ConversationTitle)
	if err == sql.ErrNoRows {
		return FocusPointer{}, false, nil
	}
	if err != nil {
		return FocusPointer{}, false, err
	}
	return f, true, nil
}

func (s *Store) SetFocus(f FocusPointer) error {
	_, err := s.db.Exec(`INSERT INTO focus (id, workspace, conversation_id, conversation_title)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET workspace = excluded.workspace,
			conversation_id = excluded.conversation_id,
			conversation_title = excluded.conversation_title,
			updated_at = CURRENT_TIMESTAMP`,
		f.Workspace, f.ConversationID, f.ConversationTitle)
	return err
}

// Paused reports whether relay delivery is paused.
func (s *Store) Paused() (bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = 'paused'").Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (s *Store) SetPaused(paused bool) error {
	v := "0"
	if paused {
		v = "1"
	}
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES ('paused', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, v)
	return err
}

// Cursor returns the delivery cursor for a conversation key.
func (s *Store) Cursor(key string) (turnID string, delivered []string, err error) {
	var ids string
	err = s.db.QueryRow("SELECT turn_id, delivered_ids FROM cursors WHERE conversation_key = ?", key).
		Scan(&turnID, &ids)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if err := json.Unmarshal([]byte(ids), &delivered); err != nil {
		return turnID, nil, nil // unreadable cursor degrades to re-seeding
	}
	return turnID, delivered, nil
}

// SetCursor records how much of a conversation's transcript has been
// mirrored to the relay.
func (s *Store) SetCursor(key, turnID string, delivered []string) error {
	ids, err := json.Marshal(delivered)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO cursors (conversation_key, turn_id, delivered_ids)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET turn_id = excluded.turn_id,
			delivered_ids = excluded.delivered_ids,
			updated_at = CURRENT_TIMESTAMP`,
		key, turnID, string(ids))
	return err
}
