package domain

import "fmt"

// ForecastState is a step in one forecast version's lifecycle.
type ForecastState string

const (
	StatePending          ForecastState = "PENDING"
	StatePhysicsResolved  ForecastState = "PHYSICS_RESOLVED"
	StatePhysicsFailed    ForecastState = "PHYSICS_FAILED"
	StateEnsembleResolved ForecastState = "ENSEMBLE_RESOLVED"
	StatePublished        ForecastState = "PUBLISHED"
	StateValidated        ForecastState = "VALIDATED"
	StateArchived         ForecastState = "ARCHIVED"
)

// transitions lists the allowed successors of each state. VALIDATED may only
// move to ARCHIVED; an unvalidated PUBLISHED forecast is archived when a
// revision supersedes it.
var transitions = map[ForecastState][]ForecastState{
	StatePending:          {StatePhysicsResolved, StatePhysicsFailed},
	StatePhysicsResolved:  {StateEnsembleResolved},
	StatePhysicsFailed:    {StateEnsembleResolved},
	StateEnsembleResolved: {StatePublished},
	StatePublished:        {StateValidated, StateArchived},
	StateValidated:        {StateArchived},
}

// Lifecycle tracks the state of one forecast version.
// It is not safe for concurrent use; owners serialise access.
type Lifecycle struct {
	state           ForecastState
	physicsResolved bool
	learnedResolved bool
}

// NewLifecycle starts a lifecycle in PENDING.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StatePending}
}

// RestoreLifecycle resumes a lifecycle at a known state, e.g. for a forecast
// that was resolved by the engine and handed over for publication.
func RestoreLifecycle(state ForecastState) *Lifecycle {
	return &Lifecycle{state: state, physicsResolved: true, learnedResolved: true}
}

// State returns the current state.
func (l *Lifecycle) State() ForecastState {
	return l.state
}

// MarkLearnedResolved records that at least one learned predictor succeeded.
func (l *Lifecycle) MarkLearnedResolved() {
	l.learnedResolved = true
}

// Transition moves to the next state or returns ErrIllegalTransition.
// ENSEMBLE_RESOLVED additionally requires physics or a learned predictor to
// have produced evidence.
func (l *Lifecycle) Transition(to ForecastState) error {
	allowed := false
	for _, s := range transitions[l.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.state, to)
	}
	if to == StateEnsembleResolved && !l.physicsResolved && !l.learnedResolved {
		return fmt.Errorf("%w: %s -> %s without any resolved source", ErrIllegalTransition, l.state, to)
	}
	if to == StatePhysicsResolved {
		l.physicsResolved = true
	}
	l.state = to
	return nil
}
