// Package fsm implements NavigationFSM (spec §4.5): the control loop that
// drives a goal to completion through the PLANNING/CONTROLLING/CLEARING
// state machine, detecting oscillation and invoking recoveries along the
// way.
package fsm

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Beginner-zzm/navigation/costmap"
	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/naverrors"
	"github.com/Beginner-zzm/navigation/navconfig"
	"github.com/Beginner-zzm/navigation/planbuffer"
	"github.com/Beginner-zzm/navigation/planner"
	"github.com/Beginner-zzm/navigation/plugin"
	"github.com/Beginner-zzm/navigation/recovery"
	"github.com/Beginner-zzm/navigation/session"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

// OutcomeStatus is the terminal status of one ExecuteGoal call (spec §6
// "Goal intake").
type OutcomeStatus int

// The four terminal statuses spec §6 defines for goal intake.
const (
	Succeeded OutcomeStatus = iota
	Aborted
	Preempted
	Rejected
)

func (s OutcomeStatus) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Aborted:
		return "ABORTED"
	case Preempted:
		return "PREEMPTED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Outcome is what ExecuteGoal returns once a goal session reaches a
// terminal state.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

// TransitionLogEntry records one state change for diagnostics (supplemental
// to spec §3's in-memory fields; spec itself doesn't require a history, but
// every teacher execution tracks one - state.go's stateExecution.history).
type TransitionLogEntry struct {
	At    time.Time
	From  session.State
	To    session.State
	Cause string
}

// PosePublisher publishes a pose for observers; used for feedback poses
// (spec §6 "published signals"). Velocity commands go through
// VelocityPublisher.
type PosePublisher func(spatialmath.Pose)

// VelocityPublisher publishes a body-frame velocity command.
type VelocityPublisher func(spatialmath.Velocity)

// GoalTransformer converts a goal pose into the planner's global frame
// (spec §4.5 step 1's "external TF"). On failure it should return the
// original pose unchanged along with the error, per "keep the original and
// let downstream checks fail cleanly".
type GoalTransformer func(ctx context.Context, goal spatialmath.Pose) (spatialmath.Pose, error)

// Deps bundles every collaborator NavigationFSM needs, grounded on the
// teacher's State/execution[R] split: State (here, NavigationFSM) owns
// long-lived collaborators and a mutex guarding the active session pointer,
// the config and the diagnostic logs, while the per-goal fields live on
// GoalSession, the analogue of
// execution[R].
type Deps struct {
	GlobalCostmap *costmap.Handle
	LocalCostmap  *costmap.Handle
	Controller    plugin.LocalController
	Base          plugin.Rotator

	Buffer            *planbuffer.Buffer
	RobotPose         planner.StartPoser
	Transform         GoalTransformer
	PublishVel        VelocityPublisher
	PublishPose       PosePublisher
	RecoveryBehaviors []plugin.RecoveryBehavior
	GlobalPlanner     plugin.GlobalPlanner

	Clock  clock.Clock
	Logger logging.Logger
}

// NavigationFSM is the control loop itself.
type NavigationFSM struct {
	deps Deps

	mu            sync.Mutex
	cfg           navconfig.Config
	active        *session.GoalSession
	worker        *planner.Worker
	chain         *recovery.Chain
	transitionLog []TransitionLogEntry
	statusRecords []recovery.StatusRecord
}

// New constructs a NavigationFSM, idle until ExecuteGoal is called.
func New(deps Deps, cfg navconfig.Config) *NavigationFSM {
	return &NavigationFSM{deps: deps, cfg: cfg}
}

// Reconfigure swaps in a new configuration, the supplemented operation
// grounded on services/motion/builtin/builtin.go's Reconfigure: it returns
// the Validate error and applies nothing if cfg is invalid, otherwise it
// takes the FSM's mutex and replaces cfg whole. A goal already executing
// keeps the config ExecuteGoal snapshotted when it accepted that goal; the
// new config takes effect from the next ExecuteGoal call.
func (f *NavigationFSM) Reconfigure(cfg navconfig.Config) error {
	if _, err := cfg.Validate("navigation"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

// CurrentGoal returns the goal pose of the active session, if any.
func (f *NavigationFSM) CurrentGoal() (spatialmath.Pose, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return spatialmath.Pose{}, false
	}
	return f.active.Goal(), true
}

// TransitionLog returns a copy of the recorded state-transition history.
func (f *NavigationFSM) TransitionLog() []TransitionLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TransitionLogEntry, len(f.transitionLog))
	copy(out, f.transitionLog)
	return out
}

// StatusRecords returns a copy of every recovery status record emitted so
// far by the active (or most recently active) session.
func (f *NavigationFSM) StatusRecords() []recovery.StatusRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recovery.StatusRecord, len(f.statusRecords))
	copy(out, f.statusRecords)
	return out
}

// Preempt delivers a new goal to whatever session is currently executing
// (spec §4.5 step 4a). It returns an error if no goal is active; the
// caller should call ExecuteGoal instead in that case.
func (f *NavigationFSM) Preempt(goal spatialmath.Pose) error {
	if err := goal.Orient.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if active == nil {
		return naverrors.New(naverrors.InvalidGoal, nil)
	}
	active.RequestPreemption(goal)
	return nil
}

// Cancel requests cancellation of whatever session is currently executing.
// It is a no-op if no goal is active.
func (f *NavigationFSM) Cancel() {
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if active != nil {
		active.RequestCancel()
	}
}

func (f *NavigationFSM) setActive(s *session.GoalSession) {
	f.mu.Lock()
	f.active = s
	f.transitionLog = nil
	f.statusRecords = nil
	f.mu.Unlock()
}

func (f *NavigationFSM) clearActive() {
	f.mu.Lock()
	f.active = nil
	f.mu.Unlock()
}

func (f *NavigationFSM) snapshotConfig() navconfig.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *NavigationFSM) recordTransition(from, to session.State, cause string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitionLog = append(f.transitionLog, TransitionLogEntry{
		At: f.deps.Clock.Now(), From: from, To: to, Cause: cause,
	})
}

func (f *NavigationFSM) recordStatus(rec recovery.StatusRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusRecords = append(f.statusRecords, rec)
}

func triggerToKind(t session.Trigger) naverrors.Kind {
	switch t {
	case session.PlanningR:
		return naverrors.PlannerExhaustedRetries
	case session.ControllingR:
		return naverrors.ControllerTimeout
	case session.OscillationR:
		return naverrors.Oscillation
	default:
		return naverrors.Shutdown
	}
}

func (f *NavigationFSM) publishZero() {
	if f.deps.PublishVel != nil {
		f.deps.PublishVel(spatialmath.Zero)
	}
}
