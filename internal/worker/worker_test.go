package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clarahq/clara/internal/memory"
)

// recordingMemory records Add/Reinforce calls and can fail them.
type recordingMemory struct {
	memory.NoopClient
	mu         sync.Mutex
	added      [][]memory.Turn
	reinforced [][]string
	intentions []memory.Intention
	fail       bool
}

func (m *recordingMemory) Add(ctx context.Context, userID, projectID string, turns []memory.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("engine down")
	}
	m.added = append(m.added, turns)
	return nil
}

func (m *recordingMemory) Reinforce(ctx context.Context, memoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("engine down")
	}
	m.reinforced = append(m.reinforced, memoryIDs)
	return nil
}

func (m *recordingMemory) ActiveIntentions(ctx context.Context, userIDs []string) ([]memory.Intention, error) {
	return m.intentions, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	hints []string
}

func (n *recordingNotifier) ProactiveHint(ctx context.Context, userID, channel, hint string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hints = append(n.hints, hint)
	return nil
}

func TestAfterResponseExtractsAndReinforces(t *testing.T) {
	mem := &recordingMemory{}
	pool := NewPool(mem, nil, nil, Config{}, nil)

	pool.AfterResponse(Task{
		UserID:           "discord:1",
		UserContent:      "remember I use vim",
		AssistantContent: "noted",
		MemoryIDs:        []string{"m1"},
	})
	pool.Drain(2 * time.Second)

	mem.mu.Lock()
	defer mem.mu.Unlock()
	if len(mem.added) != 1 || len(mem.added[0]) != 2 {
		t.Errorf("added = %+v", mem.added)
	}
	if mem.added[0][0].Content != "remember I use vim" {
		t.Errorf("user turn = %+v", mem.added[0][0])
	}
	if len(mem.reinforced) != 1 || mem.reinforced[0][0] != "m1" {
		t.Errorf("reinforced = %+v", mem.reinforced)
	}
}

func TestAfterResponseSwallowsFailures(t *testing.T) {
	mem := &recordingMemory{fail: true}
	pool := NewPool(mem, nil, nil, Config{}, nil)

	pool.AfterResponse(Task{UserID: "u", UserContent: "x", AssistantContent: "y"})
	pool.Drain(2 * time.Second) // must not panic or hang
}

func TestDrainTimesOutOnStuckTask(t *testing.T) {
	pool := NewPool(&recordingMemory{}, nil, nil, Config{}, nil)

	release := make(chan struct{})
	pool.spawn("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	start := time.Now()
	pool.Drain(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("drain took %v", elapsed)
	}
	close(release)
}

func TestMaintenanceSurfacesIntentions(t *testing.T) {
	mem := &recordingMemory{intentions: []memory.Intention{{ID: "i1", Content: "check in about the move"}}}
	notifier := &recordingNotifier{}
	pool := NewPool(mem, nil, notifier, Config{}, nil)

	pool.AfterResponse(Task{UserID: "discord:1"})
	pool.Drain(2 * time.Second)
	pool.maintenance()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.hints) != 1 || notifier.hints[0] != "intention:check in about the move" {
		t.Errorf("hints = %v", notifier.hints)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	pool := NewPool(&recordingMemory{}, nil, nil, Config{MaintenanceSchedule: "not a cron line"}, nil)
	if err := pool.Start(); err == nil {
		t.Error("invalid schedule should fail")
	}
}
