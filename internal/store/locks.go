package store

import "sync"

// MachineLocks keeps one mutex per machine so availability-check-then-create
// and the gate's read-decide-write cycles are serialized per machine. Exactly
// one writer wins; callers hold the lock across their whole decision.
type MachineLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachineLocks creates an empty lock registry.
func NewMachineLocks() *MachineLocks {
	return &MachineLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for a machine ID, creating it on first use, and
// returns the unlock func.
func (m *MachineLocks) Lock(machineID string) func() {
	m.mu.Lock()
	l, ok := m.locks[machineID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[machineID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
