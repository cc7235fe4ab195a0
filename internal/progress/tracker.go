// Package progress tracks the phase of the running analysis for pollers.
package progress

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wpptriage/internal/bus"
)

// Phase is a step of an analysis run.
type Phase string

const (
	Idle        Phase = "idle"
	Starting    Phase = "starting"
	Fetching    Phase = "fetching"
	Storing     Phase = "storing"
	Grouping    Phase = "grouping"
	Classifying Phase = "classifying"
	Delivering  Phase = "delivering"
	Completed   Phase = "completed"
	Failed      Phase = "error"
)

var percent = map[Phase]int{
	Idle:        0,
	Starting:    0,
	Fetching:    10,
	Storing:     30,
	Grouping:    50,
	Classifying: 70,
	Delivering:  90,
	Completed:   100,
	Failed:      100,
}

// validTransitions defines the allowed phase order within one run.
var validTransitions = map[Phase][]Phase{
	Starting:    {Fetching, Failed},
	Fetching:    {Storing, Delivering, Completed, Failed},
	Storing:     {Grouping, Failed},
	Grouping:    {Classifying, Delivering, Completed, Failed},
	Classifying: {Delivering, Failed},
	Delivering:  {Completed, Failed},
}

// ErrStaleRun is returned when a run that has been superseded reports progress.
var ErrStaleRun = errors.New("progress: run superseded")

// Snapshot is the observable progress state.
type Snapshot struct {
	RunID     string    `json:"run_id,omitempty"`
	Phase     Phase     `json:"status"`
	Percent   int       `json:"progress"`
	Message   string    `json:"message"`
	Details   string    `json:"details"`
	StartedAt time.Time `json:"start_time,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Running reports whether the snapshot describes an unfinished run.
func (s Snapshot) Running() bool {
	return s.Phase != Idle && s.Phase != Completed && s.Phase != Failed
}

// Tracker holds the progress of the most recently started run. Starting a run
// overwrites whatever was there.
type Tracker struct {
	mu  sync.RWMutex
	cur Snapshot
	bus *bus.Bus
	now func() time.Time
}

// NewTracker creates an idle tracker publishing updates on b (may be nil).
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		cur: Snapshot{Phase: Idle},
		bus: b,
		now: time.Now,
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur
}

// Start resets the tracker for runID.
func (t *Tracker) Start(runID, message, details string) {
	t.mu.Lock()
	now := t.now()
	t.cur = Snapshot{
		RunID:     runID,
		Phase:     Starting,
		Message:   message,
		Details:   details,
		StartedAt: now,
		UpdatedAt: now,
	}
	snap := t.cur
	t.mu.Unlock()
	t.publish(snap)
}

// Advance moves runID to phase. Invalid transitions return an error and leave
// the state unchanged.
func (t *Tracker) Advance(runID string, to Phase, message, details string) error {
	t.mu.Lock()
	if t.cur.RunID != runID {
		t.mu.Unlock()
		return ErrStaleRun
	}
	if !slices.Contains(validTransitions[t.cur.Phase], to) {
		from := t.cur.Phase
		t.mu.Unlock()
		return fmt.Errorf("invalid progress transition from %s to %s", from, to)
	}
	t.cur.Phase = to
	t.cur.Percent = percent[to]
	t.cur.Message = message
	t.cur.Details = details
	t.cur.UpdatedAt = t.now()
	snap := t.cur
	t.mu.Unlock()
	t.publish(snap)
	return nil
}

// Fail marks runID as failed with err as details.
func (t *Tracker) Fail(runID string, err error) error {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return t.Advance(runID, Failed, "Analysis failed", details)
}

func (t *Tracker) publish(s Snapshot) {
	t.bus.Emit(bus.KindAnalysisProgress, s)
}
