package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/Beginner-zzm/navigation/costmap"
	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/navconfig"
	"github.com/Beginner-zzm/navigation/planbuffer"
	"github.com/Beginner-zzm/navigation/recovery"
	"github.com/Beginner-zzm/navigation/session"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

// reachedController reports the goal reached on every call and counts how
// many times a plan is actually handed to it, for exercising the
// goal-reached-wins tie-break in isolation from the planner worker's timing.
type reachedController struct {
	setPlanCalls int
}

func (c *reachedController) SetPlan(ctx context.Context, path spatialmath.Path) (bool, error) {
	c.setPlanCalls++
	return true, nil
}

func (c *reachedController) ComputeVelocity(ctx context.Context) (spatialmath.Velocity, error) {
	return spatialmath.Velocity{}, nil
}

func (c *reachedController) IsGoalReached(ctx context.Context) bool { return true }

func internalTestPose(x, y float64) spatialmath.Pose {
	return spatialmath.NewPose("map", time.Unix(0, 0), x, y, 0, 0, 0, 0, 1)
}

func TestRunCycleDiscardsNewPlanWhenGoalAlreadyReached(t *testing.T) {
	mock := clock.NewMock()
	controller := &reachedController{}
	buffer := planbuffer.New()
	global := costmap.NewHandle(costmap.Config{FrameID: "map", Resolution: 0.05, Width: 10, Height: 10}, nil, nil)
	local := costmap.NewHandle(costmap.Config{FrameID: "map", Resolution: 0.05, Width: 10, Height: 10}, nil, nil)

	deps := Deps{
		GlobalCostmap: global,
		LocalCostmap:  local,
		Controller:    controller,
		Buffer:        buffer,
		RobotPose:     func() (spatialmath.Pose, error) { return internalTestPose(0, 0), nil },
		PublishVel:    func(spatialmath.Velocity) {},
		Clock:         mock,
		Logger:        logging.NewTestLogger(t),
	}
	cfg := navconfig.Default()
	f := New(deps, cfg)

	sess := session.New(mock, internalTestPose(5, 0))
	sess.SetState(session.Controlling)
	chain := recovery.New(nil, deps.Logger, mock)

	// A plan lands in the buffer the same cycle the controller already
	// reports the goal reached.
	buffer.Publish(spatialmath.Path{FrameID: "map", Poses: []spatialmath.Pose{internalTestPose(0, 0), internalTestPose(5, 0)}})

	outcome, done := f.runCycle(context.Background(), cfg, sess, chain)
	test.That(t, done, test.ShouldBeTrue)
	test.That(t, outcome.Status, test.ShouldEqual, Succeeded)
	test.That(t, controller.setPlanCalls, test.ShouldEqual, 0)
}
