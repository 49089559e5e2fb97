package planner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/planbuffer"
	"github.com/Beginner-zzm/navigation/planner"
	"github.com/Beginner-zzm/navigation/session"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

func testPose() spatialmath.Pose {
	return spatialmath.NewPose("map", time.Unix(0, 0), 0, 0, 0, 0, 0, 0, 1)
}

type stubPlanner struct {
	calls   int32
	path    spatialmath.Path
	err     error
	block   chan struct{}
}

func (s *stubPlanner) MakePlan(ctx context.Context, start, goal spatialmath.Pose) (spatialmath.Path, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return spatialmath.Path{}, ctx.Err()
		}
	}
	return s.path, s.err
}

func newSessionAt(mock *clock.Mock, goal spatialmath.Pose) *session.GoalSession {
	return session.New(mock, goal)
}

func TestWorkerPublishesSuccessfulPlan(t *testing.T) {
	mock := clock.NewMock()
	goal := testPose()
	sess := newSessionAt(mock, goal)
	sess.SetRunFlag(true)

	buf := planbuffer.New()
	stub := &stubPlanner{path: spatialmath.Path{FrameID: "map", Poses: []spatialmath.Pose{goal}}}

	w := planner.New(planner.Params{
		Planner:   stub,
		Buffer:    buf,
		Session:   sess,
		StartPose: func() (spatialmath.Pose, error) { return testPose(), nil },
		Clock:     mock,
		Logger:    logging.NewTestLogger(t),
	})
	w.Start(context.Background())
	defer w.Stop()

	test.That(t, waitFor(t, func() bool { return buf.HasNew() }), test.ShouldBeTrue)
	path, ok := buf.Consume()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, path.Valid(), test.ShouldBeTrue)
	test.That(t, sess.PlanningRetries(), test.ShouldEqual, 0)
}

func TestWorkerIncrementsRetriesOnError(t *testing.T) {
	mock := clock.NewMock()
	sess := newSessionAt(mock, testPose())
	sess.SetRunFlag(true)

	stub := &stubPlanner{err: errors.New("no path")}
	w := planner.New(planner.Params{
		Planner:   stub,
		Buffer:    planbuffer.New(),
		Session:   sess,
		StartPose: func() (spatialmath.Pose, error) { return testPose(), nil },
		Clock:     mock,
		Logger:    logging.NewTestLogger(t),
	})
	w.Start(context.Background())
	defer w.Stop()

	test.That(t, waitFor(t, func() bool { return sess.PlanningRetries() > 0 }), test.ShouldBeTrue)
}

func TestWorkerIdleWhenRunFlagFalse(t *testing.T) {
	mock := clock.NewMock()
	sess := newSessionAt(mock, testPose())

	stub := &stubPlanner{path: spatialmath.Path{FrameID: "map", Poses: []spatialmath.Pose{testPose()}}}
	buf := planbuffer.New()
	w := planner.New(planner.Params{
		Planner:   stub,
		Buffer:    buf,
		Session:   sess,
		StartPose: func() (spatialmath.Pose, error) { return testPose(), nil },
		Clock:     mock,
		Logger:    logging.NewTestLogger(t),
	})
	w.Start(context.Background())
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	test.That(t, buf.HasNew(), test.ShouldBeFalse)
	test.That(t, atomic.LoadInt32(&stub.calls), test.ShouldEqual, int32(0))
}

func TestWorkerRequestsClearingAfterPatienceExpires(t *testing.T) {
	mock := clock.NewMock()
	sess := newSessionAt(mock, testPose())
	sess.SetRunFlag(true)

	stub := &stubPlanner{} // empty path on every call: always fails
	w := planner.New(planner.Params{
		Planner:            stub,
		Buffer:             planbuffer.New(),
		Session:            sess,
		StartPose:          func() (spatialmath.Pose, error) { return testPose(), nil },
		Clock:              mock,
		Logger:             logging.NewTestLogger(t),
		PlannerPatience:    time.Second,
		MaxPlanningRetries: -1,
		PlannerFrequencyHz: 20,
	})
	w.Start(context.Background())
	defer w.Stop()

	for elapsed := time.Duration(0); elapsed < 1200*time.Millisecond; elapsed += 50 * time.Millisecond {
		time.Sleep(2 * time.Millisecond)
		mock.Add(50 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	trigger, ok := sess.TakeClearingRequest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, trigger, test.ShouldEqual, session.PlanningR)
	test.That(t, sess.RunFlag(), test.ShouldBeFalse)
}

func TestRetriesExhausted(t *testing.T) {
	test.That(t, planner.RetriesExhausted(5, -1), test.ShouldBeFalse)
	test.That(t, planner.RetriesExhausted(6, 5), test.ShouldBeTrue)
	test.That(t, planner.RetriesExhausted(5, 5), test.ShouldBeFalse)
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
