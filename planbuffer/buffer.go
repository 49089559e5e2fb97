// Package planbuffer implements the triple-buffered plan handoff between the
// planner worker and the control loop (spec §3, §4.2): three path slots and
// a single mutex, with plans exchanged as pointer swaps so no path is ever
// copied across the producer/consumer boundary.
package planbuffer

import (
	"sync"

	"github.com/Beginner-zzm/navigation/spatialmath"
)

// Buffer is the PlanBuffer: plannerSlot is the worker's scratch slot,
// latestSlot is the handoff slot, controllerSlot is the consumer's working
// copy. hasNew marks that latestSlot holds a plan the consumer hasn't seen.
//
// Invariant: at most one goroutine writes plannerSlot (the planner worker)
// and at most one reads controllerSlot (the FSM); the mutex only ever
// protects the three-pointer swap, never a deep copy.
type Buffer struct {
	mu sync.Mutex

	plannerSlot    *spatialmath.Path
	latestSlot     *spatialmath.Path
	controllerSlot *spatialmath.Path
	hasNew         bool
}

// New returns an empty PlanBuffer.
func New() *Buffer {
	return &Buffer{
		plannerSlot:    new(spatialmath.Path),
		latestSlot:     new(spatialmath.Path),
		controllerSlot: new(spatialmath.Path),
	}
}

// Publish is called by the planner worker with a freshly computed plan. It
// writes the plan into the worker's scratch slot, then atomically swaps
// that slot with latestSlot and sets hasNew, under the buffer's mutex.
func (b *Buffer) Publish(path spatialmath.Path) {
	*b.plannerSlot = path
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plannerSlot, b.latestSlot = b.latestSlot, b.plannerSlot
	b.hasNew = true
}

// Consume is called by the FSM once per cycle. If a new plan is waiting, it
// swaps latestSlot with controllerSlot, clears hasNew, and returns the plan
// with ok=true. If no new plan is waiting it returns ok=false and the
// caller should keep using whatever plan it already has; Consume never
// hands back a plan twice.
func (b *Buffer) Consume() (path spatialmath.Path, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasNew {
		return spatialmath.Path{}, false
	}
	b.controllerSlot, b.latestSlot = b.latestSlot, b.controllerSlot
	b.hasNew = false
	return *b.controllerSlot, true
}

// HasNew reports whether a plan is waiting to be consumed, without
// consuming it. Intended for diagnostics/tests only.
func (b *Buffer) HasNew() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasNew
}
