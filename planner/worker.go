// Package planner implements the PlannerWorker (spec §4.3): a long-lived
// goroutine that wakes on demand or on a pacing timer, calls the configured
// GlobalPlanner, and publishes successful plans to the PlanBuffer.
package planner

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"

	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/planbuffer"
	"github.com/Beginner-zzm/navigation/plugin"
	"github.com/Beginner-zzm/navigation/session"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

// StartPoser supplies the robot's current pose for each planning attempt.
type StartPoser func() (spatialmath.Pose, error)

// Params bundles a Worker's fixed dependencies and configuration, grounded
// on the teacher's urArm/fake board pattern of a struct of collaborators
// handed to a background goroutine at construction time.
type Params struct {
	Planner            plugin.GlobalPlanner
	Buffer             *planbuffer.Buffer
	Session            *session.GoalSession
	StartPose          StartPoser
	Clock              clock.Clock
	Logger             logging.Logger
	PlannerPatience    time.Duration // spec §3 planner_patience
	MaxPlanningRetries int           // spec §3 max_planning_retries; -1 = unbounded
	PlannerFrequencyHz float64       // spec §3 planner_frequency; <= 0 means plan-once-then-wait-for-wake
}

// Worker is the PlannerWorker: it owns a single background goroutine started
// by Start and stopped by Stop, grounded on
// components/arm/universalrobots/ur.go's activeBackgroundWorkers
// (sync.WaitGroup) + cancel-context lifecycle idiom.
type Worker struct {
	params Params

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Worker; call Start to launch its goroutine.
func New(p Params) *Worker {
	return &Worker{params: p}
}

// Start launches the worker's background goroutine using
// go.viam.com/utils.PanicCapturingGo, the teacher's convention for
// long-lived component workers (components/arm/universalrobots/ur.go).
func (w *Worker) Start(ctx context.Context) {
	cancelCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	goutils.PanicCapturingGo(func() {
		defer w.wg.Done()
		w.run(cancelCtx)
	})
}

// Stop cancels the worker's context and waits for its goroutine to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// run is the PlannerWorker's main loop (spec §4.3 step 1, step 6): sleep
// until woken or, when planner_frequency > 0, until the pacing timer fires;
// then, if run_flag is set, attempt one plan. A non-positive
// planner_frequency disables the pacing timer entirely (nil channel, never
// selectable) so the worker plans once per wake, per spec §3's "0 ⇒ plan
// once per accepted goal and when NavigationFSM re-requests".
func (w *Worker) run(ctx context.Context) {
	var pacing <-chan time.Time
	if w.params.PlannerFrequencyHz > 0 {
		pacing = w.params.Clock.After(time.Duration(float64(time.Second) / w.params.PlannerFrequencyHz))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.params.Session.WakeChan():
		case <-pacing:
		}
		if ctx.Err() != nil {
			return
		}
		if w.params.PlannerFrequencyHz > 0 {
			pacing = w.params.Clock.After(time.Duration(float64(time.Second) / w.params.PlannerFrequencyHz))
		}
		if !w.params.Session.RunFlag() {
			continue
		}
		w.attemptPlan(ctx)
	}
}

// attemptPlan runs a single planning attempt (spec §4.3 steps 2-5).
// planner_patience is not a per-call deadline on the external planner: it's
// the wall-clock budget, measured from last_valid_plan_at, that a string of
// failed attempts may consume before the worker gives up and requests
// CLEARING — matching the seed scenario in spec §8 ("planner stub always
// returns empty ... state transitions PLANNING→CLEARING at t≈patience",
// driven purely by the session's timing anchors, not a single call's
// duration).
func (w *Worker) attemptPlan(ctx context.Context) {
	if !w.params.Session.RunFlag() {
		return
	}
	start, err := w.params.StartPose()
	if err != nil {
		w.params.Logger.Warnw("planner worker could not get start pose", "err", err)
		return
	}
	goal := w.params.Session.Goal()

	path, err := w.params.Planner.MakePlan(ctx, start, goal)
	now := w.params.Clock.Now()

	if err == nil && path.Valid() {
		w.params.Buffer.Publish(path)
		w.params.Session.ResetPlanningRetries()
		w.params.Session.SetLastValidPlanAt(now)
		w.params.Session.RequestControlling()
		if w.params.PlannerFrequencyHz <= 0 {
			w.params.Session.SetRunFlag(false)
		}
		return
	}

	if err != nil {
		w.params.Logger.Warnw("planner returned an error", "err", err)
	} else {
		w.params.Logger.Warnw("planner returned an empty path")
	}

	if w.params.Session.State() != session.Planning {
		return
	}
	retries := w.params.Session.IncrementPlanningRetries()

	patienceExpired := w.params.PlannerPatience > 0 &&
		now.After(w.params.Session.LastValidPlanAt().Add(w.params.PlannerPatience))
	retriesExhausted := RetriesExhausted(retries, w.params.MaxPlanningRetries)

	if patienceExpired || retriesExhausted {
		w.params.Session.RequestClearing(session.PlanningR)
	}
}

// RetriesExhausted reports whether retries has exceeded max_planning_retries
// (spec §4.5 tie-break: a negative max means unbounded retries).
func RetriesExhausted(retries, max int) bool {
	if max < 0 {
		return false
	}
	return retries > max
}
