// Package sessions persists durable conversation state: sessions keyed by
// (user, context, project) and their message history.
package sessions

import (
	"context"
	"errors"

	"github.com/clarahq/clara/pkg/models"
)

var (
	// ErrSessionNotFound indicates the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionArchived indicates a write against an archived session.
	ErrSessionArchived = errors.New("session is archived")
)

// DefaultHistoryLimit is how many recent messages the context builder
// pulls when the caller does not say otherwise.
const DefaultHistoryLimit = 15

// Store is the interface for session persistence.
//
// Sessions for one (user, context, project) key form a linked list through
// PreviousSessionID. Resolve always returns the newest non-archived row,
// creating one linked to the most recent prior row when none is live.
type Store interface {
	// Resolve finds or creates the session for the key and touches its
	// last-activity time.
	Resolve(ctx context.Context, userID, contextID, projectID string) (*models.Session, error)

	// Get retrieves a session by id.
	Get(ctx context.Context, id string) (*models.Session, error)

	// SetSummary updates the rolling summary for a session.
	SetSummary(ctx context.Context, id, summary string) error

	// Archive marks a session archived; Resolve will start a new linked
	// session on the next request.
	Archive(ctx context.Context, id string) error

	// AppendMessage persists one message. The session must exist and not
	// be archived at insertion time.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// History returns the last limit messages of a session in
	// chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Close releases underlying resources.
	Close() error
}
