package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/clarahq/clara/pkg/models"
)

// PostgresConfig holds configuration for the Postgres store.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store on Postgres for multi-box deployments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to Postgres and bootstraps the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}

	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// DB exposes the underlying database connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			context_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			previous_session_id TEXT,
			session_summary TEXT NOT NULL DEFAULT '',
			last_activity_at TIMESTAMPTZ NOT NULL,
			archived BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_key
			ON sessions (user_id, context_id, project_id, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
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

func (s *PostgresStore) Resolve(ctx context.Context, userID, contextID, projectID string) (*models.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const cols = `id, user_id, context_id, project_id,
		COALESCE(previous_session_id, ''), session_summary,
		last_activity_at, archived, created_at`

	now := time.Now().UTC()

	row := tx.QueryRowContext(ctx, `
		SELECT `+cols+` FROM sessions
		WHERE user_id = $1 AND context_id = $2 AND project_id = $3 AND NOT archived
		ORDER BY created_at DESC LIMIT 1`,
		userID, contextID, projectID)
	session, err := scanSession(row)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity_at = $1 WHERE id = $2`,
			now, session.ID); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		session.LastActivityAt = now
		return session, tx.Commit()
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("query session: %w", err)
	}

	var previousID string
	row = tx.QueryRowContext(ctx, `
		SELECT id FROM sessions
		WHERE user_id = $1 AND context_id = $2 AND project_id = $3
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
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), '', $6, FALSE, $7)`,
		session.ID, userID, contextID, projectID, previousID, now, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, tx.Commit()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, context_id, project_id,
			COALESCE(previous_session_id, ''), session_summary,
			last_activity_at, archived, created_at
		FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

func (s *PostgresStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET session_summary = $1 WHERE id = $2`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET archived = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var archived bool
	row := tx.QueryRowContext(ctx,
		`SELECT archived FROM sessions WHERE id = $1`, msg.SessionID)
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
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, msg.UserID, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $1 WHERE id = $2`,
		msg.CreatedAt, msg.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, role, content, created_at
		FROM messages WHERE session_id = $1
		ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

// EnsureProject creates the project row if it does not exist.
func (s *PostgresStore) EnsureProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.OwnerID, p.Name)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
