package nodes

import (
	"sync"
	"testing"
	"time"

	"github.com/clarahq/clara/pkg/models"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterMintsSession(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), nil)

	conn := &fakeConn{}
	sid, reconnect := r.Register(conn, "cli-1", "cli", nil, nil)
	if sid == "" {
		t.Fatal("expected non-empty session id")
	}
	if reconnect {
		t.Error("first register should not be a reconnect")
	}

	node, err := r.GetByHandle(conn)
	if err != nil {
		t.Fatalf("GetByHandle: %v", err)
	}
	if node.ID != "cli-1" || node.SessionID != sid {
		t.Errorf("node = %+v", node)
	}
}

func TestReconnectPreservesSession(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), nil)

	old := &fakeConn{}
	sid1, _ := r.Register(old, "n1", "discord", []models.Capability{models.CapReactions}, nil)

	// Same node id on a fresh connection.
	fresh := &fakeConn{}
	sid2, reconnect := r.Register(fresh, "n1", "discord", []models.Capability{models.CapReactions, models.CapThreads}, nil)

	if !reconnect {
		t.Error("expected reconnect=true")
	}
	if sid1 != sid2 {
		t.Errorf("session id changed across reconnect: %q != %q", sid1, sid2)
	}
	if !old.wasClosed() {
		t.Error("displaced handle should be closed")
	}
	if _, err := r.GetByHandle(old); err == nil {
		t.Error("old handle should no longer resolve")
	}

	// Capability queries see the most recent register.
	node, err := r.GetByHandle(fresh)
	if err != nil {
		t.Fatalf("GetByHandle: %v", err)
	}
	if !node.HasCapability(models.CapThreads) {
		t.Error("expected updated capability set")
	}
}

func TestDifferentNodesDifferentSessions(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), nil)

	sid1, _ := r.Register(&fakeConn{}, "a", "cli", nil, nil)
	sid2, _ := r.Register(&fakeConn{}, "b", "cli", nil, nil)
	if sid1 == sid2 {
		t.Error("distinct node ids must not share a session id")
	}
}

func TestUnregisterKeepsSessionBinding(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), nil)

	conn := &fakeConn{}
	sid1, _ := r.Register(conn, "n1", "cli", nil, nil)
	r.Unregister(conn)

	if _, err := r.GetByHandle(conn); err == nil {
		t.Error("handle binding should be dropped")
	}

	// Reconnect within the grace window resumes the session.
	sid2, reconnect := r.Register(&fakeConn{}, "n1", "cli", nil, nil)
	if !reconnect || sid1 != sid2 {
		t.Errorf("reconnect=%v sid1=%q sid2=%q", reconnect, sid1, sid2)
	}
}

func TestUnregisterAfterDisplacementIsNoop(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), nil)

	old := &fakeConn{}
	r.Register(old, "n1", "cli", nil, nil)
	fresh := &fakeConn{}
	r.Register(fresh, "n1", "cli", nil, nil)

	// The old handle's read loop exits and unregisters; the fresh
	// connection must stay bound.
	r.Unregister(old)

	node, err := r.GetByHandle(fresh)
	if err != nil {
		t.Fatalf("fresh handle lost: %v", err)
	}
	if !node.Connected() {
		t.Error("node should still be connected")
	}
}

func TestSweepRemovesExpiredNodes(t *testing.T) {
	r := NewRegistry(RegistryConfig{GraceWindow: time.Millisecond}, nil)

	conn := &fakeConn{}
	r.Register(conn, "n1", "cli", nil, nil)
	r.Unregister(conn)

	time.Sleep(5 * time.Millisecond)
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// After the sweep, the node id registers fresh.
	_, reconnect := r.Register(&fakeConn{}, "n1", "cli", nil, nil)
	if reconnect {
		t.Error("expected fresh registration after sweep")
	}
}

func TestBroadcastToPlatform(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig(), nil)

	a := &fakeConn{}
	b := &fakeConn{}
	c := &fakeConn{}
	r.Register(a, "d1", "discord", nil, nil)
	r.Register(b, "d2", "discord", nil, nil)
	r.Register(c, "t1", "telegram", nil, nil)

	r.BroadcastToPlatform("discord", "hello")

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("discord nodes sent = %d, %d; want 1, 1", len(a.sent), len(b.sent))
	}
	if len(c.sent) != 0 {
		t.Errorf("telegram node should not receive discord broadcast")
	}
}
