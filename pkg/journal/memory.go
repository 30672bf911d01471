package journal

import (
	"context"
	"sync"

	"github.com/proofofgood/engine/pkg/model"
)

// Memory is an in-process journal. It backs tests and single-node
// deployments where the postgres ledger is disabled.
type Memory struct {
	mu     sync.RWMutex
	events []model.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, ev model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Seq = uint64(len(m.events)) + 1
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *Memory) Replay(ctx context.Context, fn func(model.Event) error) error {
	m.mu.RLock()
	snapshot := make([]model.Event, len(m.events))
	copy(snapshot, m.events)
	m.mu.RUnlock()

	for _, ev := range snapshot {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) LastSeq(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.events)), nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of the stored log, used by replay determinism tests.
func (m *Memory) Events() []model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Event, len(m.events))
	copy(out, m.events)
	return out
}
