package fsm

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Beginner-zzm/navigation/naverrors"
	"github.com/Beginner-zzm/navigation/navconfig"
	"github.com/Beginner-zzm/navigation/planner"
	"github.com/Beginner-zzm/navigation/recovery"
	"github.com/Beginner-zzm/navigation/session"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

// ExecuteGoal is the NavigationFSM's single public operation (spec §4.5):
// it validates the goal, opens a GoalSession, starts the PlannerWorker, and
// runs the control cycle until a terminal outcome is reached. It blocks for
// the lifetime of the goal; a concurrent caller preempts or cancels it via
// Preempt/Cancel.
func (f *NavigationFSM) ExecuteGoal(ctx context.Context, goal spatialmath.Pose) (Outcome, error) {
	if err := goal.Orient.Validate(); err != nil {
		return Outcome{Status: Rejected, Reason: naverrors.ReasonFor(naverrors.InvalidGoal)}, nil
	}

	cfg := f.snapshotConfig()

	if cfg.ShutdownCostmaps {
		f.deps.GlobalCostmap.Start()
		f.deps.LocalCostmap.Start()
		defer func() {
			f.deps.GlobalCostmap.Stop()
			f.deps.LocalCostmap.Stop()
		}()
	}

	planningGoal := goal
	if f.deps.Transform != nil {
		transformed, err := f.deps.Transform(ctx, goal)
		if err == nil {
			planningGoal = transformed
		}
		// on failure, keep the original goal and let downstream checks fail
		// cleanly, per spec §4.5 step 1.
	}

	sess := session.New(f.deps.Clock, planningGoal)
	sess.SetRunFlag(true)
	f.setActive(sess)
	defer f.clearActive()

	chain := recovery.New(f.deps.RecoveryBehaviors, f.deps.Logger, f.deps.Clock)

	worker := planner.New(planner.Params{
		Planner:            f.deps.GlobalPlanner,
		Buffer:             f.deps.Buffer,
		Session:            sess,
		StartPose:          f.deps.RobotPose,
		Clock:              f.deps.Clock,
		Logger:             f.deps.Logger,
		PlannerPatience:    secondsToDuration(cfg.PlannerPatienceSec),
		MaxPlanningRetries: cfg.MaxPlanningRetries,
		PlannerFrequencyHz: cfg.PlannerFrequencyHz,
	})
	worker.Start(ctx)
	defer worker.Stop()

	period := secondsToDuration(1.0 / cfg.ControllerFrequencyHz)
	ticker := f.deps.Clock.Ticker(period)
	defer ticker.Stop()

	for {
		cycleStart := f.deps.Clock.Now()

		outcome, done := f.runCycle(ctx, cfg, sess, chain)
		if done {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: Aborted, Reason: naverrors.ReasonFor(naverrors.Shutdown)}, nil
		case <-ticker.C:
		}

		if sess.State() == session.Controlling && f.deps.Clock.Now().Sub(cycleStart) > period {
			f.deps.Logger.Warnw("control cycle overran its period", "period", period)
		}
	}
}

// runCycle runs steps (a) through (g) of spec §4.5's per-cycle sequence. It
// returns (outcome, true) when the goal reached a terminal state this
// cycle, else (zero, false) to continue looping.
func (f *NavigationFSM) runCycle(
	ctx context.Context,
	cfg navconfig.Config,
	sess *session.GoalSession,
	chain *recovery.Chain,
) (Outcome, bool) {
	// (a) Preemption check.
	if newGoal, ok := sess.TakePreemption(); ok {
		if err := newGoal.Orient.Validate(); err == nil {
			from := sess.State()
			sess.ReplaceGoal(newGoal)
			f.recordTransition(from, session.Planning, "preemption")
			return Outcome{}, false
		}
	}
	if sess.CancelRequested() {
		f.publishZero()
		return Outcome{Status: Preempted}, true
	}

	// (b) Frame check: re-transform the goal; if it moved, treat it like (a).
	if f.deps.Transform != nil {
		transformed, err := f.deps.Transform(ctx, sess.Goal())
		if err == nil && spatialmath.Distance(transformed, sess.Goal()) > 0 {
			from := sess.State()
			sess.ReplaceGoal(transformed)
			f.recordTransition(from, session.Planning, "frame change")
			return Outcome{}, false
		}
	}

	// (c) Fetch current pose and (e) check costmap freshness concurrently:
	// two independent reads with no shared state, grounded on
	// services/motion/builtin/replan.go's errgroup.WithContext use for its
	// per-iteration obstacle fetch running alongside the rest of replanning.
	var current spatialmath.Pose
	var poseErr error
	var costmapCurrent bool
	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		current, poseErr = f.currentPose()
		return nil
	})
	group.Go(func() error {
		costmapCurrent = f.deps.LocalCostmap.IsCurrent()
		return nil
	})
	_ = group.Wait() // both goroutines always return nil; errors surface via poseErr

	if poseErr == nil && f.deps.PublishPose != nil {
		f.deps.PublishPose(current)
	}

	// (d) Oscillation check.
	if poseErr == nil {
		anchor := sess.OscillationAnchor()
		if spatialmath.Distance(current, anchor) >= cfg.OscillationDistanceM {
			now := f.deps.Clock.Now()
			sess.ResetOscillationAnchor(current, now)
			if sess.RecoveryTrigger() == session.OscillationR {
				sess.SetRecoveryIndex(0)
			}
		}
	}

	// (e) Safety check.
	if !costmapCurrent {
		f.publishZero()
		return Outcome{}, false
	}

	// (f) Plan ingest. If the controller already reports the goal reached
	// this cycle, spec §4.5's tie-break applies: goal-reached wins, the
	// buffer is not consumed, and a pending plan is never handed to the
	// controller.
	goalReached := sess.State() == session.Controlling && f.deps.Controller.IsGoalReached(ctx)
	if !goalReached {
		if path, ok := f.deps.Buffer.Consume(); ok {
			accepted, err := f.deps.Controller.SetPlan(ctx, path)
			if err != nil || !accepted {
				f.publishZero()
				return Outcome{Status: Aborted, Reason: naverrors.ReasonFor(naverrors.ControllerNoVelocity)}, true
			}
		}
	}

	// (g) State dispatch.
	return f.dispatch(ctx, cfg, sess, chain, current, poseErr, goalReached)
}

func (f *NavigationFSM) dispatch(
	ctx context.Context,
	cfg navconfig.Config,
	sess *session.GoalSession,
	chain *recovery.Chain,
	current spatialmath.Pose,
	poseErr error,
	goalReached bool,
) (Outcome, bool) {
	switch sess.State() {
	case session.Planning:
		sess.SetRunFlag(true)
		if sess.TakeControllingRequest() {
			sess.ResetPlanningRetries()
			from := sess.State()
			sess.SetState(session.Controlling)
			f.recordTransition(from, session.Controlling, "plan published")
		}
		if trigger, ok := sess.TakeClearingRequest(); ok {
			f.publishZero()
			from := sess.State()
			sess.SetRecoveryTrigger(trigger)
			sess.SetState(session.Clearing)
			f.recordTransition(from, session.Clearing, string(trigger))
		}
		return Outcome{}, false

	case session.Controlling:
		return f.dispatchControlling(ctx, cfg, sess, current, poseErr, goalReached), goalReached

	case session.Clearing:
		return f.dispatchClearing(ctx, sess, chain, current, poseErr)
	}
	return Outcome{}, false
}

// dispatchControlling never itself returns a terminal outcome except via
// the SUCCEEDED path, matching spec §4.5's CONTROLLING row. It returns a
// zero Outcome and the caller's runCycle loop continues either way; the one
// exception is SUCCEEDED, communicated via the bool return from the caller.
func (f *NavigationFSM) dispatchControlling(
	ctx context.Context,
	cfg navconfig.Config,
	sess *session.GoalSession,
	current spatialmath.Pose,
	poseErr error,
	goalReached bool,
) Outcome {
	if goalReached {
		return Outcome{Status: Succeeded}
	}

	now := f.deps.Clock.Now()
	if cfg.OscillationTimeoutSec > 0 &&
		now.After(sess.LastOscillationResetAt().Add(secondsToDuration(cfg.OscillationTimeoutSec))) {
		f.publishZero()
		from := sess.State()
		sess.SetRecoveryTrigger(session.OscillationR)
		sess.SetState(session.Clearing)
		f.recordTransition(from, session.Clearing, "oscillation")
		return Outcome{}
	}

	vel, err := f.deps.Controller.ComputeVelocity(ctx)
	if err == nil {
		f.deps.PublishVel(vel)
		sess.SetLastValidControlAt(now)
		return Outcome{}
	}

	f.publishZero()
	if now.After(sess.LastValidControlAt().Add(secondsToDuration(cfg.ControllerPatienceSec))) {
		from := sess.State()
		sess.SetRecoveryTrigger(session.ControllingR)
		sess.SetState(session.Clearing)
		f.recordTransition(from, session.Clearing, "controller patience exceeded")
		return Outcome{}
	}

	from := sess.State()
	sess.SetState(session.Planning)
	sess.SetLastValidPlanAt(now)
	sess.ResetPlanningRetries()
	sess.SetRunFlag(true)
	f.recordTransition(from, session.Planning, "controller failure within patience")
	return Outcome{}
}

func (f *NavigationFSM) dispatchClearing(
	ctx context.Context,
	sess *session.GoalSession,
	chain *recovery.Chain,
	current spatialmath.Pose,
	poseErr error,
) (Outcome, bool) {
	f.publishZero()

	rec, ran := chain.AdvanceAndRun(ctx, sess.RecoveryIndex())
	if ran {
		now := f.deps.Clock.Now()
		sess.IncrementRecoveryIndex()
		if poseErr == nil {
			sess.ResetOscillationAnchor(current, now)
		} else {
			sess.ResetOscillationAnchor(sess.OscillationAnchor(), now)
		}
		from := sess.State()
		sess.SetState(session.Planning)
		sess.SetRunFlag(true)
		f.recordTransition(from, session.Planning, "recovery ran: "+rec.Name)
		f.recordStatus(rec)
		return Outcome{}, false
	}

	sess.SetRunFlag(false)
	reason := naverrors.ReasonFor(triggerToKind(sess.RecoveryTrigger()))
	return Outcome{Status: Aborted, Reason: reason}, true
}

func (f *NavigationFSM) currentPose() (spatialmath.Pose, error) {
	if f.deps.RobotPose == nil {
		return spatialmath.Pose{}, naverrors.New(naverrors.TransformUnavailable, nil)
	}
	return f.deps.RobotPose()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
