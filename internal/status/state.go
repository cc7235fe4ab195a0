// Package status tracks the daemon runtime state derived from configuration
// and analysis outcomes.
package status

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Unconfigured State = "UNCONFIGURED"
	Ready        State = "READY"
	Analyzing    State = "ANALYZING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Unconfigured, Ready, Error},
	Unconfigured: {Ready, Analyzing, Error},
	Ready:        {Analyzing, Unconfigured, Error},
	Analyzing:    {Ready, Degraded, Unconfigured, Error},
	Degraded:     {Analyzing, Ready, Unconfigured, Error},
	Error:        {Booting},
}

// Serving reports whether the daemon can run analyses in state s.
func (s State) Serving() bool {
	return s == Ready || s == Analyzing || s == Degraded
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}

// Settle moves out of Booting according to whether providers are configured.
func (m *Machine) Settle(configured bool) error {
	if configured {
		return m.Transition(Ready)
	}
	return m.Transition(Unconfigured)
}

// Watch follows analysis and config events on b until ctx is done.
// configured reports the current configuration state.
func (m *Machine) Watch(ctx context.Context, b *bus.Bus, configured func() bool, logger *zap.Logger) {
	analysisCh, unsubAnalysis := b.Subscribe("analysis.", 32)
	configCh, unsubConfig := b.Subscribe("config.", 8)
	defer unsubAnalysis()
	defer unsubConfig()

	for {
		var evt bus.Event
		select {
		case <-ctx.Done():
			return
		case evt = <-analysisCh:
		case evt = <-configCh:
		}

		var err error
		switch evt.Kind {
		case bus.KindAnalysisStarted:
			err = m.Transition(Analyzing)
		case bus.KindAnalysisFailed:
			err = m.Transition(Degraded)
		case bus.KindAnalysisCompleted:
			err = m.Settle(configured())
		case bus.KindConfigUpdated:
			if p, ok := evt.Payload.(bus.ConfigPayload); ok && m.Current() != Analyzing {
				err = m.Settle(p.Configured)
			}
		default:
			continue
		}
		if err != nil {
			logger.Debug("status transition skipped", zap.String("event", evt.Kind), zap.Error(err))
		}
	}
}
