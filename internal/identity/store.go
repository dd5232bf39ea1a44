// Package identity maps platform-prefixed user IDs (e.g. "discord:123")
// to canonical users so semantic-memory queries can span platforms.
//
// Linking rules (who may link what) are outside the gateway; the store
// only answers lookups.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Store resolves canonical identities for prefixed user IDs.
type Store interface {
	// Canonical returns the canonical user ID for a prefixed ID, or the
	// input unchanged when no mapping exists.
	Canonical(ctx context.Context, prefixedID string) (string, error)

	// AllLinkedIDs returns every prefixed ID linked to the same canonical
	// user as the given ID. With no mapping, it returns just the input.
	AllLinkedIDs(ctx context.Context, prefixedID string) ([]string, error)

	// Link binds a prefixed ID to a canonical user.
	Link(ctx context.Context, canonicalID, prefixedID string) error
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	canonical map[string]string   // prefixed -> canonical
	links     map[string][]string // canonical -> prefixed ids
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		canonical: make(map[string]string),
		links:     make(map[string][]string),
	}
}

func (s *MemoryStore) Canonical(ctx context.Context, prefixedID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if canonical, ok := s.canonical[prefixedID]; ok {
		return canonical, nil
	}
	return prefixedID, nil
}

func (s *MemoryStore) AllLinkedIDs(ctx context.Context, prefixedID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	canonical, ok := s.canonical[prefixedID]
	if !ok {
		return []string{prefixedID}, nil
	}
	out := make([]string, len(s.links[canonical]))
	copy(out, s.links[canonical])
	return out, nil
}

func (s *MemoryStore) Link(ctx context.Context, canonicalID, prefixedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.canonical[prefixedID]; ok && existing != canonicalID {
		return fmt.Errorf("id %q already linked to %q", prefixedID, existing)
	}
	if _, ok := s.canonical[prefixedID]; !ok {
		s.canonical[prefixedID] = canonicalID
		s.links[canonicalID] = append(s.links[canonicalID], prefixedID)
	}
	return nil
}

// SQLStore implements Store against the gateway's relational database.
// It shares the connection opened by the sessions store.
type SQLStore struct {
	db          *sql.DB
	placeholder func(int) string
}

// NewSQLStore creates an identity store on an existing connection.
// postgres selects $n placeholders; sqlite uses ?.
func NewSQLStore(db *sql.DB, postgres bool) (*SQLStore, error) {
	s := &SQLStore{db: db, placeholder: func(int) string { return "?" }}
	if postgres {
		s.placeholder = func(n int) string { return fmt.Sprintf("$%d", n) }
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_links (
			prefixed_user_id TEXT PRIMARY KEY,
			canonical_user_id TEXT NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("ensure user_links: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Canonical(ctx context.Context, prefixedID string) (string, error) {
	var canonical string
	q := fmt.Sprintf(`SELECT canonical_user_id FROM user_links WHERE prefixed_user_id = %s`, s.placeholder(1))
	err := s.db.QueryRowContext(ctx, q, prefixedID).Scan(&canonical)
	if err == sql.ErrNoRows {
		return prefixedID, nil
	}
	if err != nil {
		return "", fmt.Errorf("query canonical: %w", err)
	}
	return canonical, nil
}

func (s *SQLStore) AllLinkedIDs(ctx context.Context, prefixedID string) ([]string, error) {
	canonical, err := s.Canonical(ctx, prefixedID)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT prefixed_user_id FROM user_links WHERE canonical_user_id = %s`, s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, q, canonical)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []string{prefixedID}, nil
	}
	return out, nil
}

func (s *SQLStore) Link(ctx context.Context, canonicalID, prefixedID string) error {
	q := fmt.Sprintf(`
		INSERT INTO user_links (prefixed_user_id, canonical_user_id)
		VALUES (%s, %s) ON CONFLICT (prefixed_user_id) DO NOTHING`,
		s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, q, prefixedID, canonicalID)
	return err
}
