// Package recovery implements RecoveryChain (spec §4.4): an ordered list of
// bounded, world-mutating behaviors invoked whenever the FSM enters
// CLEARING, with a monotonically advancing index per failure episode.
package recovery

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Beginner-zzm/navigation/logging"
	"github.com/Beginner-zzm/navigation/plugin"
)

// StatusRecord is the published status of one recovery invocation: the
// behavior's name, its index in the chain, the chain length, when it ran,
// and the error it returned, if any. It does not carry the robot's pose.
type StatusRecord struct {
	Name      string
	Index     int
	Total     int
	RanAt     time.Time
	Err       error
}

// Chain is RecoveryChain: a fixed, ordered list of named behaviors. The
// index of the next one to run is kept by the caller (the GoalSession's
// recovery index) and passed to AdvanceAndRun; the Chain does not advance it.
type Chain struct {
	behaviors []plugin.RecoveryBehavior
	logger    logging.Logger
	clock     clock.Clock
}

// New builds a Chain from an ordered list of behaviors, grounded on the
// teacher's bounded for-loop-with-ctx.Err() retry shape in
// services/motion/builtin/replan.go, simplified to a single pass per call
// since the FSM itself owns the retry loop across CLEARING cycles.
func New(behaviors []plugin.RecoveryBehavior, logger logging.Logger, clk clock.Clock) *Chain {
	return &Chain{behaviors: behaviors, logger: logger, clock: clk}
}

// Len returns the number of behaviors in the chain.
func (c *Chain) Len() int { return len(c.behaviors) }

// AdvanceAndRun runs the behavior at index, returning its status record and
// whether a behavior ran at all (false means index was already at or past
// the chain's length, i.e. the chain is exhausted per spec §4.4/§8 invariant
// 7: "recovery_index never exceeds the chain length").
func (c *Chain) AdvanceAndRun(ctx context.Context, index int) (StatusRecord, bool) {
	if index < 0 || index >= len(c.behaviors) {
		return StatusRecord{}, false
	}
	behavior := c.behaviors[index]
	err := behavior.Run(ctx)
	rec := StatusRecord{
		Name:  behavior.Name(),
		Index: index,
		Total: len(c.behaviors),
		RanAt: c.clock.Now(),
		Err:   err,
	}
	if err != nil {
		c.logger.Warnw("recovery behavior returned an error, continuing chain", "name", behavior.Name(), "index", index, "err", err)
	} else {
		c.logger.Infow("recovery behavior ran", "name", behavior.Name(), "index", index, "total", len(c.behaviors))
	}
	return rec, true
}
