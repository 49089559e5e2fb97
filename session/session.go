// Package session implements GoalSession (spec §3): the per-goal context
// shared between the NavigationFSM and the PlannerWorker. Every field is
// guarded by one mutex; both contexts acquire it only briefly, per spec §5.
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Beginner-zzm/navigation/spatialmath"
)

// State is the FSM state a session is currently in.
type State int

// The three control-loop states from spec §2/§4.5.
const (
	Planning State = iota
	Controlling
	Clearing
)

func (s State) String() string {
	switch s {
	case Planning:
		return "PLANNING"
	case Controlling:
		return "CONTROLLING"
	case Clearing:
		return "CLEARING"
	default:
		return "UNKNOWN"
	}
}

// Trigger is the reason the session last entered CLEARING, carried forward
// so an exhausted recovery chain can report why it gave up (spec §3).
type Trigger string

// The three recovery triggers from spec §3/§4.5, plus NoTrigger for "not set".
const (
	NoTrigger   Trigger = ""
	PlanningR   Trigger = "PLANNING_R"
	ControllingR Trigger = "CONTROLLING_R"
	OscillationR Trigger = "OSCILLATION_R"
)

// GoalSession is one accepted goal's mutable context. It is created on
// acceptance and destroyed (discarded) on a terminal outcome.
type GoalSession struct {
	mu    sync.Mutex
	clock clock.Clock

	id uuid.UUID

	goalPose spatialmath.Pose

	acceptedAt            time.Time
	lastValidPlanAt       time.Time
	lastValidControlAt    time.Time
	lastOscillationResetAt time.Time
	oscillationAnchor     spatialmath.Pose

	planningRetries int
	recoveryIndex   int
	state           State
	recoveryTrigger Trigger

	runFlag         bool
	cancelRequested bool
	preemptingGoal  *spatialmath.Pose

	controllingRequested bool
	clearingRequested    bool

	wake chan struct{}
}

// New creates a GoalSession for goal, anchoring all timing fields to now
// (clock.Now()), per spec §4.5 step 3 and the "refreshed on goal
// acceptance" rule for the oscillation timer (spec §4.5 tie-breaks).
func New(clk clock.Clock, goal spatialmath.Pose) *GoalSession {
	now := clk.Now()
	return &GoalSession{
		clock:                  clk,
		id:                     uuid.New(),
		goalPose:               goal,
		acceptedAt:             now,
		lastValidPlanAt:        now,
		lastValidControlAt:     now,
		lastOscillationResetAt: now,
		oscillationAnchor:      goal,
		state:                  Planning,
		wake:                   make(chan struct{}, 1),
	}
}

// ID is the session's unique identifier.
func (s *GoalSession) ID() uuid.UUID { return s.id }

// Goal returns the currently active planning-frame goal pose.
func (s *GoalSession) Goal() spatialmath.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goalPose
}

// AcceptedAt returns when the session was created.
func (s *GoalSession) AcceptedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptedAt
}

// RequestPreemption records a newer goal to switch to at the FSM's next
// preemption check (spec §4.5 step 4a). It does not itself replace the
// active goal; TakePreemption does that under the FSM's control.
func (s *GoalSession) RequestPreemption(goal spatialmath.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preemptingGoal = &goal
	s.signalWakeLocked()
}

// TakePreemption atomically fetches and clears a pending preemption. The
// FSM calls this at the top of every cycle.
func (s *GoalSession) TakePreemption() (spatialmath.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preemptingGoal == nil {
		return spatialmath.Pose{}, false
	}
	g := *s.preemptingGoal
	s.preemptingGoal = nil
	return g, true
}

// ReplaceGoal installs a new goal as the active one, resetting the
// per-attempt bookkeeping spec §4.5 step 4a requires on preemption:
// anchors, recovery index, and recovery trigger.
func (s *GoalSession) ReplaceGoal(goal spatialmath.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	s.goalPose = goal
	s.acceptedAt = now
	s.lastValidPlanAt = now
	s.lastValidControlAt = now
	s.lastOscillationResetAt = now
	s.oscillationAnchor = goal
	s.planningRetries = 0
	s.recoveryIndex = 0
	s.recoveryTrigger = NoTrigger
	s.state = Planning
	s.signalWakeLocked()
}

// RequestCancel marks the session for cancellation; the worker observes it
// at its next iteration boundary and the FSM observes it at the top of its
// next cycle (spec §5 cancellation/preemption).
func (s *GoalSession) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRequested = true
	s.runFlag = false
}

// CancelRequested reports whether cancellation was requested.
func (s *GoalSession) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// State returns the current control-loop state.
func (s *GoalSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to a new state. Only the FSM calls this.
func (s *GoalSession) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// RecoveryTrigger returns the reason the session last entered CLEARING.
func (s *GoalSession) RecoveryTrigger() Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveryTrigger
}

// SetRecoveryTrigger records why the session is entering CLEARING.
func (s *GoalSession) SetRecoveryTrigger(t Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryTrigger = t
}

// PlanningRetries returns the number of planning attempts made for the
// current goal (spec §4.5 tie-break: attempts, not cycles).
func (s *GoalSession) PlanningRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planningRetries
}

// IncrementPlanningRetries bumps the planning-attempt counter and returns
// the new value.
func (s *GoalSession) IncrementPlanningRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planningRetries++
	return s.planningRetries
}

// ResetPlanningRetries zeroes the planning-attempt counter: on goal
// acceptance, on a successful plan, and on entering CONTROLLING (spec §8
// invariant 6).
func (s *GoalSession) ResetPlanningRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planningRetries = 0
}

// RecoveryIndex returns the chain position of the next recovery to run.
func (s *GoalSession) RecoveryIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoveryIndex
}

// SetRecoveryIndex overwrites the recovery index (used to reset it to 0).
func (s *GoalSession) SetRecoveryIndex(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryIndex = i
}

// IncrementRecoveryIndex bumps the recovery index and returns the new value.
func (s *GoalSession) IncrementRecoveryIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveryIndex++
	return s.recoveryIndex
}

// LastValidPlanAt returns the timestamp of the last successful plan.
func (s *GoalSession) LastValidPlanAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastValidPlanAt
}

// SetLastValidPlanAt records a successful plan's timestamp.
func (s *GoalSession) SetLastValidPlanAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastValidPlanAt = t
}

// LastValidControlAt returns the timestamp of the last successful velocity
// command.
func (s *GoalSession) LastValidControlAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastValidControlAt
}

// SetLastValidControlAt records a successful control cycle's timestamp.
func (s *GoalSession) SetLastValidControlAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastValidControlAt = t
}

// LastOscillationResetAt returns when the oscillation anchor was last reset.
func (s *GoalSession) LastOscillationResetAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOscillationResetAt
}

// OscillationAnchor returns the pose the oscillation timer is measuring
// displacement from.
func (s *GoalSession) OscillationAnchor() spatialmath.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oscillationAnchor
}

// ResetOscillationAnchor updates the anchor pose and timestamp together,
// the only way spec §4.5 tie-break rules allow the anchor to move: on goal
// acceptance, on displacement >= oscillation_distance, and after each
// recovery behavior runs.
func (s *GoalSession) ResetOscillationAnchor(pose spatialmath.Pose, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oscillationAnchor = pose
	s.lastOscillationResetAt = at
}

// RunFlag reports whether the planner worker should be actively planning.
func (s *GoalSession) RunFlag() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runFlag
}

// SetRunFlag sets the planner worker's run flag and, if setting it true,
// wakes the worker.
func (s *GoalSession) SetRunFlag(run bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runFlag = run
	if run {
		s.signalWakeLocked()
	}
}

// Wake signals the planner worker without changing the run flag, used for
// the FSM's explicit "re-request" wake-ups (spec §4.3 step 1).
func (s *GoalSession) Wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signalWakeLocked()
}

func (s *GoalSession) signalWakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WakeChan is the channel the planner worker selects on for wake-ups.
func (s *GoalSession) WakeChan() <-chan struct{} { return s.wake }

// RequestControlling is the PlannerWorker's advisory signal that a plan was
// published and the FSM should move from PLANNING to CONTROLLING (spec
// §4.3 step 4, §5 "a state change requested by the worker ... is
// advisory"). It is a no-op if the session has moved on from PLANNING
// since the worker started its attempt.
func (s *GoalSession) RequestControlling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Planning {
		s.controllingRequested = true
	}
}

// TakeControllingRequest atomically fetches and clears a pending
// CONTROLLING request. The FSM calls this in its PLANNING dispatch.
func (s *GoalSession) TakeControllingRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.controllingRequested
	s.controllingRequested = false
	return r
}

// RequestClearing is the PlannerWorker's advisory signal that planning has
// exhausted its patience or retry budget (spec §4.3 step 5): it records the
// trigger, clears run_flag, and leaves the actual state transition to the
// FSM's next cycle. A no-op if the session has moved on from PLANNING.
func (s *GoalSession) RequestClearing(trigger Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Planning {
		return
	}
	s.clearingRequested = true
	s.recoveryTrigger = trigger
	s.runFlag = false
}

// TakeClearingRequest atomically fetches and clears a pending CLEARING
// request along with its trigger. The FSM calls this in its PLANNING
// dispatch.
func (s *GoalSession) TakeClearingRequest() (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.clearingRequested {
		return NoTrigger, false
	}
	s.clearingRequested = false
	return s.recoveryTrigger, true
}
