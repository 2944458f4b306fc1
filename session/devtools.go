package session

import (
	"sync"
	"time"
)

const transitionHistoryLimit = 64

// Devtools records session diagnostics for a development tools surface. It is
// constructed only when the WithDevtools option is given and is handed to the
// caller explicitly via Coordinator.Devtools; nothing is ever attached to a
// global namespace. A nil *Devtools is a valid no-op recorder.
type Devtools struct {
	mu            sync.Mutex
	transitions   []PhaseTransition
	refreshes     int
	forcedLogouts int
	verifications int
	watchEvents   int
}

// PhaseTransition is one recorded state machine step.
type PhaseTransition struct {
	From Phase
	To   Phase
	At   time.Time
}

// DevtoolsSnapshot is the immutable diagnostic view.
type DevtoolsSnapshot struct {
	Transitions   []PhaseTransition
	Refreshes     int
	ForcedLogouts int
	Verifications int
	WatchEvents   int
}

func newDevtools() *Devtools {
	return &Devtools{}
}

// Snapshot returns a copy of everything recorded so far.
func (d *Devtools) Snapshot() DevtoolsSnapshot {
	if d == nil {
		return DevtoolsSnapshot{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return DevtoolsSnapshot{
		Transitions:   append([]PhaseTransition(nil), d.transitions...),
		Refreshes:     d.refreshes,
		ForcedLogouts: d.forcedLogouts,
		Verifications: d.verifications,
		WatchEvents:   d.watchEvents,
	}
}

func (d *Devtools) recordTransition(from, to Phase) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transitions = append(d.transitions, PhaseTransition{From: from, To: to, At: time.Now()})
	if len(d.transitions) > transitionHistoryLimit {
		d.transitions = d.transitions[len(d.transitions)-transitionHistoryLimit:]
	}
}

func (d *Devtools) recordRefresh() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshes++
}

func (d *Devtools) recordForcedLogout() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forcedLogouts++
}

func (d *Devtools) recordVerification() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifications++
}

func (d *Devtools) recordWatchEvent() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchEvents++
}
