package fsm_test

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/Beginner-zzm/navigation/costmap"
	"github.com/Beginner-zzm/navigation/fsm"
	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/navconfig"
	"github.com/Beginner-zzm/navigation/planbuffer"
	"github.com/Beginner-zzm/navigation/plugin"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

func pose(x, y float64) spatialmath.Pose {
	return spatialmath.NewPose("map", time.Unix(0, 0), x, y, 0, 0, 0, 0, 1)
}

func invalidPose() spatialmath.Pose {
	return spatialmath.NewPose("map", time.Unix(0, 0), 1, 1, 0, math.NaN(), 0, 0, 1)
}

func newCostmap() *costmap.Handle {
	return costmap.NewHandle(costmap.Config{FrameID: "map", Resolution: 0.05, Width: 40, Height: 40}, nil, nil)
}

// fakePlanner always returns a two-point path from start to goal once its
// failAttempts budget is exhausted and failUntil (if set) reports true, for
// exercising the planner-failure / recovery / patience paths without
// pulling in a real planning algorithm.
type fakePlanner struct {
	failAttempts int32
	calls        int32
	failUntil    func() bool
}

func (p *fakePlanner) MakePlan(ctx context.Context, start, goal spatialmath.Pose) (spatialmath.Path, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if n <= atomic.LoadInt32(&p.failAttempts) {
		return spatialmath.Path{}, nil
	}
	if p.failUntil != nil && !p.failUntil() {
		return spatialmath.Path{}, nil
	}
	return spatialmath.Path{FrameID: "map", Poses: []spatialmath.Pose{start, goal}}, nil
}

// fakeController reaches the goal once ComputeVelocity has been called
// reachAfter times, and otherwise reports steady progress.
type fakeController struct {
	reachAfter int32
	calls      int32
	velErr     error
}

func (c *fakeController) SetPlan(ctx context.Context, path spatialmath.Path) (bool, error) {
	return true, nil
}

func (c *fakeController) ComputeVelocity(ctx context.Context) (spatialmath.Velocity, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.velErr != nil {
		return spatialmath.Velocity{}, c.velErr
	}
	return spatialmath.Velocity{Vx: 0.2}, nil
}

func (c *fakeController) IsGoalReached(ctx context.Context) bool {
	return atomic.LoadInt32(&c.calls) >= c.reachAfter
}

type fakeRecovery struct {
	name string
	ran  int32
}

func (r *fakeRecovery) Name() string { return r.name }

func (r *fakeRecovery) Run(ctx context.Context) error {
	atomic.AddInt32(&r.ran, 1)
	return nil
}

// pumpUntil advances the mock clock in small steps, interleaved with real
// sleeps so the FSM's and planner worker's goroutines get scheduled, until
// cond reports true or the real-time budget is spent.
func pumpUntil(t *testing.T, mock *clock.Mock, step time.Duration, budget time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
		mock.Add(step)
	}
	return cond()
}

func baseDeps(mock *clock.Mock, t *testing.T, planner plugin.GlobalPlanner, controller plugin.LocalController, robotPose func() (spatialmath.Pose, error), recoveries []plugin.RecoveryBehavior) fsm.Deps {
	return fsm.Deps{
		GlobalCostmap:     newCostmap(),
		LocalCostmap:      newCostmap(),
		Controller:        controller,
		Buffer:            planbuffer.New(),
		RobotPose:         robotPose,
		PublishVel:        func(spatialmath.Velocity) {},
		RecoveryBehaviors: recoveries,
		GlobalPlanner:     planner,
		Clock:             mock,
		Logger:            logging.NewTestLogger(t),
	}
}

func TestExecuteGoalRejectsInvalidQuaternion(t *testing.T) {
	mock := clock.NewMock()
	deps := baseDeps(mock, t, &fakePlanner{}, &fakeController{}, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)
	cfg := navconfig.Default()
	f := fsm.New(deps, cfg)

	outcome, err := f.ExecuteGoal(context.Background(), invalidPose())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Rejected)
}

func TestExecuteGoalSucceedsOnStraightLinePlan(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{}
	controller := &fakeController{reachAfter: 3}
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 0
	cfg.MaxPlanningRetries = -1
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	var outcome fsm.Outcome
	ok := pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Succeeded)
}

func TestShutdownCostmapsStartsAndStopsAroundExecuteGoal(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{}
	controller := &fakeController{reachAfter: 3}
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)
	deps.GlobalCostmap.Stop()
	deps.LocalCostmap.Stop()

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 0
	cfg.MaxPlanningRetries = -1
	cfg.ShutdownCostmaps = true
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	ok := pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		return deps.GlobalCostmap.Active() && deps.LocalCostmap.Active()
	})
	test.That(t, ok, test.ShouldBeTrue)

	var outcome fsm.Outcome
	ok = pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Succeeded)
	test.That(t, deps.GlobalCostmap.Active(), test.ShouldBeFalse)
	test.That(t, deps.LocalCostmap.Active(), test.ShouldBeFalse)
}

func TestExecuteGoalAbortsWhenPlannerExhaustsPatienceWithNoRecovery(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{failAttempts: 1 << 20} // never succeeds
	controller := &fakeController{reachAfter: 1 << 20}
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 30
	cfg.PlannerPatienceSec = 0.05
	cfg.MaxPlanningRetries = -1
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	var outcome fsm.Outcome
	ok := pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Aborted)
	test.That(t, outcome.Reason, test.ShouldEqual, "planning failed after recovery")
}

func TestExecuteGoalAbortsOnControllerPatienceExceeded(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{}
	controller := &fakeController{reachAfter: 1 << 20, velErr: context.DeadlineExceeded}
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 0
	cfg.ControllerPatienceSec = 0.05
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	var outcome fsm.Outcome
	ok := pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Aborted)
	test.That(t, outcome.Reason, test.ShouldEqual, "control failed after recovery")
}

func TestExecuteGoalAbortsOnOscillationWithNoRecovery(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{}
	controller := &fakeController{reachAfter: 1 << 20}
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 0
	cfg.OscillationTimeoutSec = 0.05
	cfg.OscillationDistanceM = 10 // robot never moves far enough to reset the anchor
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	var outcome fsm.Outcome
	ok := pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Aborted)
	test.That(t, outcome.Reason, test.ShouldEqual, "oscillating after recovery")
}

func TestExecuteGoalRecoversThenSucceeds(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{}
	controller := &fakeController{reachAfter: 2}
	recovery := &fakeRecovery{name: "test_recovery"}
	// Every plan fails until the recovery behavior has run, so planner
	// patience expires and CLEARING is entered before any plan succeeds.
	planner.failUntil = func() bool { return atomic.LoadInt32(&recovery.ran) > 0 }
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, []plugin.RecoveryBehavior{recovery})

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 30
	cfg.PlannerPatienceSec = 0.02
	cfg.MaxPlanningRetries = -1
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	var outcome fsm.Outcome
	ok := pumpUntil(t, mock, 10*time.Millisecond, 3*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Succeeded)
	test.That(t, atomic.LoadInt32(&recovery.ran), test.ShouldBeGreaterThanOrEqualTo, int32(1))
}

func TestExecuteGoalHandlesPreemptionThenCancel(t *testing.T) {
	mock := clock.NewMock()
	planner := &fakePlanner{}
	controller := &fakeController{reachAfter: 1 << 20}
	deps := baseDeps(mock, t, planner, controller, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)

	cfg := navconfig.Default()
	cfg.ControllerFrequencyHz = 50
	cfg.PlannerFrequencyHz = 0
	f := fsm.New(deps, cfg)

	outcomeCh := make(chan fsm.Outcome, 1)
	go func() {
		o, _ := f.ExecuteGoal(context.Background(), pose(5, 0))
		outcomeCh <- o
	}()

	// Wait until the goal is being actively controlled.
	reachedControlling := pumpUntil(t, mock, 10*time.Millisecond, 2*time.Second, func() bool {
		for _, e := range f.TransitionLog() {
			if e.Cause == "plan published" {
				return true
			}
		}
		return false
	})
	test.That(t, reachedControlling, test.ShouldBeTrue)

	newGoal := pose(8, 8)
	test.That(t, f.Preempt(newGoal), test.ShouldBeNil)

	preempted := pumpUntil(t, mock, 10*time.Millisecond, 2*time.Second, func() bool {
		for _, e := range f.TransitionLog() {
			if e.Cause == "preemption" {
				return true
			}
		}
		return false
	})
	test.That(t, preempted, test.ShouldBeTrue)

	goal, ok := f.CurrentGoal()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, goal.Point.X, test.ShouldEqual, newGoal.Point.X)
	test.That(t, goal.Point.Y, test.ShouldEqual, newGoal.Point.Y)

	f.Cancel()

	var outcome fsm.Outcome
	ok = pumpUntil(t, mock, 10*time.Millisecond, 2*time.Second, func() bool {
		select {
		case outcome = <-outcomeCh:
			return true
		default:
			return false
		}
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, fsm.Preempted)
}

func TestReconfigureRejectsInvalidConfig(t *testing.T) {
	mock := clock.NewMock()
	deps := baseDeps(mock, t, &fakePlanner{}, &fakeController{}, func() (spatialmath.Pose, error) { return pose(0, 0), nil }, nil)
	f := fsm.New(deps, navconfig.Default())

	bad := navconfig.Default()
	bad.ControllerFrequencyHz = 0
	test.That(t, f.Reconfigure(bad), test.ShouldNotBeNil)
}
