// Package sequencer provides the engine's transaction boundary: every entry
// point runs serialized, and a failure inside a transaction restores every
// participating component to its pre-transaction state. There are no
// compensating actions and no partial commits.
package sequencer

import (
	"context"
	"sync"
)

// Snapshotter is implemented by components whose mutable state takes part
// in transactional rollback.
type Snapshotter interface {
	Snapshot() any
	Restore(state any)
}

// Sequencer serializes transactions over a fixed set of components. It
// stands in for the global ordering a ledger would impose: one transaction
// at a time, all-or-nothing.
type Sequencer struct {
	mu         sync.Mutex
	components []Snapshotter
}

// New creates a Sequencer over the given components.
func New(components ...Snapshotter) *Sequencer {
	return &Sequencer{components: components}
}

// Register adds a component to the rollback set. Must be called before the
// sequencer starts executing transactions.
func (s *Sequencer) Register(c Snapshotter) {
	s.components = append(s.components, c)
}

// Execute runs fn as one transaction. If fn returns an error, every
// component is restored to the state captured on entry and the error is
// returned unchanged; the caller observes either the whole effect or none.
func (s *Sequencer) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]any, len(s.components))
	for i, c := range s.components {
		snapshots[i] = c.Snapshot()
	}

	if err := fn(ctx); err != nil {
		for i := len(s.components) - 1; i >= 0; i-- {
			s.components[i].Restore(snapshots[i])
		}
		return err
	}
	return nil
}
