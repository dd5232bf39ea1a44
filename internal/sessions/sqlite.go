package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/clarahq/clara/pkg/models"
)

// SQLiteConfig holds configuration for the sqlite store.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:            "clara.db",
		MaxOpenConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and bootstraps) a sqlite-backed store.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite", config.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// DB exposes the underlying database connection for related stores.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			context_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			previous_session_id TEXT,
			session_summary TEXT NOT NULL DEFAULT '',
			last_activity_at TIMESTAMP NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_key
			ON sessions (user_id, context_id, project_id, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages (session_id, created_at);

		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) Resolve(ctx context.Context, userID, contextID, projectID string) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const cols = `id, user_id, context_id, project_id,
		COALESCE(previous_session_id, ''), session_summary,
		last_activity_at, archived, created_at`

	now := time.Now().UTC()

	// Newest non-archived row for the key wins.
	row := tx.QueryRowContext(ctx, `
		SELECT `+cols+` FROM sessions
		WHERE user_id = ? AND context_id = ? AND project_id = ? AND archived = 0
		ORDER BY created_at DESC LIMIT 1`,
		userID, contextID, projectID)
	session, err := scanSession(row)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
			now, session.ID); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		session.LastActivityAt = now
		return session, tx.Commit()
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("query session: %w", err)
	}

	// No live session: link the new one to the most recent prior row.
	var previousID string
	row = tx.QueryRowContext(ctx, `
		SELECT id FROM sessions
		WHERE user_id = ? AND context_id = ? AND project_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, contextID, projectID)
	if err := row.Scan(&previousID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query prior session: %w", err)
	}

	session = &models.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		ContextID:         contextID,
		ProjectID:         projectID,
		PreviousSessionID: previousID,
		LastActivityAt:    now,
		CreatedAt:         now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions
			(id, user_id, context_id, project_id, previous_session_id,
			 session_summary, last_activity_at, archived, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), '', ?, 0, ?)`,
		session.ID, userID, contextID, projectID, previousID, now, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, context_id, project_id,
			COALESCE(previous_session_id, ''), session_summary,
			last_activity_at, archived, created_at
		FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

func (s *SQLiteStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET session_summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var archived bool
	row := tx.QueryRowContext(ctx,
		`SELECT archived FROM sessions WHERE id = ?`, msg.SessionID)
	if err := row.Scan(&archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("check session: %w", err)
	}
	if archived {
		return ErrSessionArchived
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.UserID, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

// EnsureProject creates the project row if it does not exist.
func (s *SQLiteStore) EnsureProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.OwnerID, p.Name)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
