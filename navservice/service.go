// Package navservice implements the navigation core's outward-facing
// surface (spec §6): accepting goals, streaming feedback, and the
// operator-invoked out-of-band operations (MakePlan, ClearCostmaps)
// layered on top of the fsm.NavigationFSM control loop. It is grounded on
// services/navigation/navigation.go's Service interface shape and
// services/motion/builtin/builtin.go's split between a rich entry point
// (MoveOnGlobe) and a simpler compatibility one (Move), generalized since
// this module has no gRPC/resource-graph layer of its own.
package navservice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/Beginner-zzm/navigation/costmap"
	"github.com/Beginner-zzm/navigation/fsm"
	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/naverrors"
	"github.com/Beginner-zzm/navigation/navconfig"
	"github.com/Beginner-zzm/navigation/planner"
	"github.com/Beginner-zzm/navigation/recovery"
	"github.com/Beginner-zzm/navigation/spatialmath"

	"github.com/benbjohnson/clock"
)

// defaultRotationSpeedRadPerSec is the angular speed used for the stock
// rotate_in_place recovery behaviors when the caller hasn't supplied its
// own RecoveryBehaviors list (a zero angle falls back to a quarter turn in
// recovery.RotateInPlace.Run itself).
const defaultRotationSpeedRadPerSec = 0.5

// FeedbackEvent is one pose sample delivered to a Feedback subscriber.
type FeedbackEvent struct {
	At   time.Time
	Pose spatialmath.Pose
}

// MakePlanOptions parameterizes an out-of-band MakePlan call.
type MakePlanOptions struct {
	// ToleranceM is the caller's acceptable goal displacement; the search
	// step is 3*resolution, or ToleranceM itself if that is smaller, per
	// spec §6 and move_base.cpp:467-471.
	ToleranceM float64
}

// Service is the navigation core's outward-facing entry point: one active
// goal at a time via ExecuteGoal/ExecuteSimpleGoal, pose feedback via
// Feedback, and the operator-invoked MakePlan/ClearCostmaps operations.
type Service struct {
	mu        sync.Mutex
	executing bool

	cfg navconfig.Config

	machine   *fsm.NavigationFSM
	global    *costmap.Handle
	local     *costmap.Handle
	planner   plannerFunc
	robotPose planner.StartPoser
	logger    logging.Logger
	clock     clock.Clock

	subMu     sync.Mutex
	subs      map[int]chan FeedbackEvent
	nextSubID int
}

// plannerFunc narrows plugin.GlobalPlanner to the one method MakePlan needs,
// avoiding an import of the plugin package purely for a type name.
type plannerFunc interface {
	MakePlan(ctx context.Context, start, goal spatialmath.Pose) (spatialmath.Path, error)
}

// New constructs a Service and the NavigationFSM underneath it. deps is the
// same fsm.Deps the FSM itself needs; New installs its own PublishPose
// wrapper (fanning out to Feedback subscribers) around whatever the caller
// already supplied, rather than replacing it, in the teacher's
// reconfigurableNavigation decorator style generalized from
// "wrap with reconfigurable" to "wrap with fan-out".
func New(deps fsm.Deps, cfg navconfig.Config) *Service {
	if len(deps.RecoveryBehaviors) == 0 {
		registry := recovery.NewRegistry(recovery.DefaultChainParams{
			Global:              deps.GlobalCostmap,
			Local:               deps.LocalCostmap,
			Base:                deps.Base,
			RotationPermitted:   cfg.RotationPermitted,
			ConservativeHalfX:   cfg.ConservativeResetDist,
			ConservativeHalfY:   cfg.ConservativeResetDist,
			RotationAngleRad:    0,
			RotationSpeedRadSec: defaultRotationSpeedRadPerSec,
		})
		deps.RecoveryBehaviors = recovery.ChainFromSpecs(registry, cfg.ResolveRecoveryBehaviors())
	}
	s := &Service{
		cfg:       cfg,
		global:    deps.GlobalCostmap,
		local:     deps.LocalCostmap,
		planner:   deps.GlobalPlanner,
		robotPose: deps.RobotPose,
		logger:    deps.Logger,
		clock:     deps.Clock,
		subs:      make(map[int]chan FeedbackEvent),
	}
	userPublish := deps.PublishPose
	deps.PublishPose = func(p spatialmath.Pose) {
		if userPublish != nil {
			userPublish(p)
		}
		s.publishFeedback(p)
	}
	s.machine = fsm.New(deps, cfg)
	return s
}

// ExecuteGoal accepts a new goal, rejecting the call outright if one is
// already executing (spec §6: preemption, not a second concurrent
// ExecuteGoal, is how a caller changes an in-flight goal).
func (s *Service) ExecuteGoal(ctx context.Context, goal spatialmath.Pose) (fsm.Outcome, error) {
	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		return fsm.Outcome{}, fmt.Errorf("navservice: a goal is already executing; use Preempt or Cancel")
	}
	s.executing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.executing = false
		s.mu.Unlock()
	}()
	return s.machine.ExecuteGoal(ctx, goal)
}

// ExecuteSimpleGoal is the compatibility entry point for callers that only
// have a planar (x, y, yaw) target rather than a full Pose, grounded on
// builtin.go's Move/MoveOnGlobe split between a simple and a rich goal
// description.
func (s *Service) ExecuteSimpleGoal(ctx context.Context, x, y, yawRad float64) (fsm.Outcome, error) {
	goal := spatialmath.NewPose(s.global.GlobalFrame(), s.clock.Now(), x, y, 0,
		0, 0, math.Sin(yawRad/2), math.Cos(yawRad/2))
	return s.ExecuteGoal(ctx, goal)
}

// Preempt forwards a new goal to whatever ExecuteGoal call is active.
func (s *Service) Preempt(goal spatialmath.Pose) error {
	return s.machine.Preempt(goal)
}

// Cancel requests cancellation of the active goal, if any.
func (s *Service) Cancel() {
	s.machine.Cancel()
}

// CurrentGoal returns the active goal pose, if any.
func (s *Service) CurrentGoal() (spatialmath.Pose, bool) {
	return s.machine.CurrentGoal()
}

// TransitionLog returns the recorded state-transition history of the
// active (or most recently active) goal; each ExecuteGoal call starts a
// fresh log.
func (s *Service) TransitionLog() []fsm.TransitionLogEntry {
	return s.machine.TransitionLog()
}

// StatusRecords returns every recovery status record emitted so far.
func (s *Service) StatusRecords() []recovery.StatusRecord {
	return s.machine.StatusRecords()
}

// Reconfigure swaps in a new configuration for both the Service and the
// NavigationFSM underneath it.
func (s *Service) Reconfigure(cfg navconfig.Config) error {
	if err := s.machine.Reconfigure(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Feedback returns a channel of pose samples published during goal
// execution. The channel is unsubscribed and closed when ctx is done. A
// slow subscriber drops frames rather than blocking the control loop that
// feeds it (no third-party pub/sub library appears anywhere in the
// retrieval pack, so this is a plain buffered-channel fan-out).
func (s *Service) Feedback(ctx context.Context) <-chan FeedbackEvent {
	ch := make(chan FeedbackEvent, 8)
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

func (s *Service) publishFeedback(p spatialmath.Pose) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	evt := FeedbackEvent{At: s.clock.Now(), Pose: p}
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClearCostmaps resets every cell cost in both costmaps (spec §6), for an
// operator who suspects the cost data has gone bad. Each reset is atomic
// under the handle's own mutex; since a reset is idempotent and
// order-independent, no cross-costmap lock is needed. Any costmap that
// still reports stale sensor data immediately after being cleared is
// surfaced to the caller, both errors combined via multierr so a
// simultaneous double-stale case names both instead of the second
// silently winning.
func (s *Service) ClearCostmaps(ctx context.Context) error {
	s.global.ResetLayers()
	s.local.ResetLayers()
	var errs error
	if !s.global.IsCurrent() {
		errs = multierr.Append(errs, naverrors.Newf(naverrors.CostmapStale, "global costmap reported stale immediately after clearing"))
	}
	if !s.local.IsCurrent() {
		errs = multierr.Append(errs, naverrors.Newf(naverrors.CostmapStale, "local costmap reported stale immediately after clearing"))
	}
	return errs
}

// MakePlan computes a path to goal without driving the robot there (spec
// §6 out-of-band planning; grounded on move_base.cpp's planService, which
// move_base.cpp:424-428 only serves while no goal is active). If the exact
// goal is unreachable, it searches outward for a reachable point within
// opts.ToleranceM before giving up.
func (s *Service) MakePlan(ctx context.Context, goal spatialmath.Pose, opts MakePlanOptions) (spatialmath.Path, error) {
	if err := goal.Orient.Validate(); err != nil {
		return spatialmath.Path{}, err
	}

	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		return spatialmath.Path{}, fmt.Errorf("navservice: must be inactive to make a plan for an external caller")
	}
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MakePlanClearCostmap {
		s.local.ResetLayers()
	}

	start, err := s.currentRobotPose()
	if err != nil {
		return spatialmath.Path{}, err
	}

	return s.resolveReachablePlan(ctx, start, goal, opts, cfg)
}

func (s *Service) currentRobotPose() (spatialmath.Pose, error) {
	if s.robotPose == nil {
		return spatialmath.Pose{}, naverrors.New(naverrors.TransformUnavailable, nil)
	}
	p, err := s.robotPose()
	if err != nil {
		return spatialmath.Pose{}, naverrors.New(naverrors.TransformUnavailable, err)
	}
	return p, nil
}

// resolveReachablePlan tries the exact goal first, then, on failure,
// searches outward in increments of min(3*resolution, opts.ToleranceM) (and
// never past opts.ToleranceM), trying both directions on each axis at each
// offset, exactly as move_base.cpp:467-531's nested x_offset/y_offset/
// x_mult/y_mult sweep does with its own planner_->makePlan call at each
// candidate. make_plan_add_unreachable_goal appends the original
// (unreached) goal to the end of a found plan, matching planService's
// "in case the local planner can get you there" comment.
func (s *Service) resolveReachablePlan(ctx context.Context, start, goal spatialmath.Pose, opts MakePlanOptions, cfg navconfig.Config) (spatialmath.Path, error) {
	if path, err := s.planner.MakePlan(ctx, start, goal); err == nil && path.Valid() {
		return path, nil
	}

	increment := 3 * s.global.Resolution()
	if opts.ToleranceM > 0 && opts.ToleranceM < increment {
		increment = opts.ToleranceM
	}

	const epsilon = 1e-9
	for maxOffset := increment; maxOffset <= opts.ToleranceM+epsilon; maxOffset += increment {
		for yOffset := 0.0; yOffset <= maxOffset+epsilon; yOffset += increment {
			for xOffset := 0.0; xOffset <= maxOffset+epsilon; xOffset += increment {
				// Only probe the current outer layer; smaller offsets were
				// already tried at an earlier (smaller) maxOffset.
				if xOffset < maxOffset-epsilon && yOffset < maxOffset-epsilon {
					continue
				}
				for _, yMult := range [...]float64{-1, 1} {
					if yOffset < epsilon && yMult < 0 {
						continue
					}
					for _, xMult := range [...]float64{-1, 1} {
						if xOffset < epsilon && xMult < 0 {
							continue
						}
						candidate := goal
						candidate.Point.X = goal.Point.X + xOffset*xMult
						candidate.Point.Y = goal.Point.Y + yOffset*yMult

						path, err := s.planner.MakePlan(ctx, start, candidate)
						if err != nil || !path.Valid() {
							continue
						}
						if cfg.MakePlanAddUnreachableGoal {
							path.Poses = append(path.Poses, goal)
						}
						return path, nil
					}
				}
			}
		}
	}

	return spatialmath.Path{}, naverrors.Newf(naverrors.OffMap,
		"no reachable point found within %gm tolerance of goal", opts.ToleranceM)
}
