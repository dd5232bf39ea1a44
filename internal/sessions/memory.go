package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarahq/clara/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		messages: map[string][]*models.Message{},
	}
}

func (m *MemoryStore) Resolve(ctx context.Context, userID, contextID, projectID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var newest, newestLive *models.Session
	for _, s := range m.sessions {
		if s.UserID != userID || s.ContextID != contextID || s.ProjectID != projectID {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
		if !s.Archived && (newestLive == nil || s.CreatedAt.After(newestLive.CreatedAt)) {
			newestLive = s
		}
	}

	if newestLive != nil {
		newestLive.LastActivityAt = time.Now()
		return cloneSession(newestLive), nil
	}

	now := time.Now()
	session := &models.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ContextID:      contextID,
		ProjectID:      projectID,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if newest != nil {
		session.PreviousSessionID = newest.ID
	}
	m.sessions[session.ID] = session
	return cloneSession(session), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) SetSummary(ctx context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.Summary = summary
	return nil
}

func (m *MemoryStore) Archive(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.Archived = true
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[msg.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if session.Archived {
		return ErrSessionArchived
	}

	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &clone)
	session.LastActivityAt = clone.CreatedAt
	return nil
}

func (m *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	return &clone
}
