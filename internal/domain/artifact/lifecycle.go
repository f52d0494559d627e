package artifact

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// State is a position in the per-kind build lifecycle.
type State string

const (
	idle      = "idle"
	checking  = "checking"
	skipped   = "skipped"
	restoring = "restoring"
	restored  = "restored"
	producing = "producing"
	promoted  = "promoted"
	failed    = "failed"
)

// Lifecycle states.
const (
	StateIdle      State = idle
	StateChecking  State = checking
	StateSkipped   State = skipped
	StateRestoring State = restoring
	StateRestored  State = restored
	StateProducing State = producing
	StatePromoted  State = promoted
	StateFailed    State = failed
)

// Lifecycle events.
const (
	EventCheck   = "CHECK"
	EventSkip    = "SKIP"
	EventRestore = "RESTORE"
	EventHit     = "HIT"
	EventMiss    = "MISS"
	EventProduce = "PRODUCE"
	EventPromote = "PROMOTE"
	EventFail    = "FAIL"
	EventReset   = "RESET"
)

// ErrInvalidTransition is returned when an event does not apply to the current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// LifecycleContext is the statekit machine context.
type LifecycleContext struct {
	Kind string
}

// Transition is one entry of a Lifecycle history.
type Transition struct {
	From  State
	To    State
	Event string
	At    time.Time
}

// Lifecycle tracks one artifact kind from the rebuild decision to promotion.
type Lifecycle struct {
	kind    string
	interp  *statekit.Interpreter[LifecycleContext]
	mu      sync.Mutex
	history []Transition
	lastErr error
	now     func() time.Time
}

// NewLifecycle creates a started Lifecycle in the idle state.
func NewLifecycle(kind string) (*Lifecycle, error) {
	l := &Lifecycle{kind: kind, now: time.Now}

	machine, err := statekit.NewMachine[LifecycleContext]("artifact-" + kind).
		WithInitial(idle).
		WithContext(LifecycleContext{Kind: kind}).
		WithAction("recordFailure", func(_ *LifecycleContext, event statekit.Event) {
			if err, ok := event.Payload.(error); ok {
				l.setErr(err)
			}
		}).
		State(idle).
		On(EventCheck).Target(checking).Done().
		State(checking).
		On(EventSkip).Target(skipped).
		On(EventRestore).Target(restoring).
		On(EventProduce).Target(producing).
		On(EventFail).Target(failed).Done().
		State(restoring).
		On(EventHit).Target(restored).
		On(EventMiss).Target(producing).
		On(EventFail).Target(failed).Done().
		State(producing).
		On(EventPromote).Target(promoted).
		On(EventFail).Target(failed).Done().
		State(skipped).
		On(EventReset).Target(idle).Done().
		State(restored).
		On(EventReset).Target(idle).Done().
		State(promoted).
		On(EventReset).Target(idle).Done().
		State(failed).
		OnEntry("recordFailure").
		On(EventReset).Target(idle).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("building %s lifecycle: %w", kind, err)
	}

	l.interp = statekit.NewInterpreter(machine)
	l.interp.Start()
	return l, nil
}

// Kind returns the artifact kind.
func (l *Lifecycle) Kind() string {
	return l.kind
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.interp.State().Value)
}

// Fire sends event and fails if the machine did not move.
func (l *Lifecycle) Fire(event string) error {
	return l.send(statekit.Event{Type: statekit.EventType(event)})
}

// Fail moves to the failed state and remembers err.
func (l *Lifecycle) Fail(err error) error {
	return l.send(statekit.Event{Type: EventFail, Payload: err})
}

func (l *Lifecycle) send(event statekit.Event) error {
	from := l.State()
	l.interp.Send(event)
	to := l.State()
	if to == from {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, event.Type, from)
	}

	l.mu.Lock()
	l.history = append(l.history, Transition{From: from, To: to, Event: string(event.Type), At: l.now()})
	l.mu.Unlock()
	return nil
}

// Err returns the error that moved the lifecycle to failed, if any.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Lifecycle) setErr(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// History returns the transitions taken so far.
func (l *Lifecycle) History() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.history...)
}

// Terminal reports whether the lifecycle has reached an end state.
func (l *Lifecycle) Terminal() bool {
	switch l.State() {
	case StateSkipped, StateRestored, StatePromoted, StateFailed:
		return true
	}
	return false
}

// Stop releases the interpreter.
func (l *Lifecycle) Stop() {
	l.interp.Stop()
}
