// Package accumulator holds the append-only finding set of a single run.
package accumulator

import (
	"errors"
	"sync"

	"github.com/splashkes/eventlinter/pkg/models"
)

// ErrFrozen is returned by Append once the run has reached a terminal frame.
var ErrFrozen = errors.New("finding set is frozen")

// Listener is notified with the full snapshot after every change.
type Listener func(snapshot []models.Finding)

// Accumulator is the authoritative "all findings" state for one run.
// It is safe for concurrent use; listeners run on the appending goroutine
// after the lock is released, in registration order.
type Accumulator struct {
	mu        sync.RWMutex
	findings  []models.Finding
	frozen    bool
	listeners []Listener
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{findings: []models.Finding{}}
}

// Subscribe registers fn to receive a fresh snapshot after every Append
// and Reset.
func (a *Accumulator) Subscribe(fn Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Append concatenates batch in call order. No de-duplication is performed.
func (a *Accumulator) Append(batch []models.Finding) error {
	a.mu.Lock()
	if a.frozen {
		a.mu.Unlock()
		return ErrFrozen
	}
	for _, f := range batch {
		if f.Emoji == "" {
			f.Emoji = models.SeverityEmoji(f.Severity)
		}
		a.findings = append(a.findings, f)
	}
	snap, listeners := a.snapshotLocked(), a.listeners
	a.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Reset discards every finding and unfreezes the set for a new run.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.findings = []models.Finding{}
	a.frozen = false
	snap, listeners := a.snapshotLocked(), a.listeners
	a.mu.Unlock()

	notify(listeners, snap)
}

// Freeze marks the set terminal. Later appends fail with ErrFrozen.
func (a *Accumulator) Freeze() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true
}

// Frozen reports whether the set has been frozen.
func (a *Accumulator) Frozen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frozen
}

// Snapshot returns a copy of the findings in arrival order.
func (a *Accumulator) Snapshot() []models.Finding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

// Len returns the number of accumulated findings.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.findings)
}

func (a *Accumulator) snapshotLocked() []models.Finding {
	out := make([]models.Finding, len(a.findings))
	copy(out, a.findings)
	return out
}

func notify(listeners []Listener, snap []models.Finding) {
	for _, fn := range listeners {
		fn(snap)
	}
}
