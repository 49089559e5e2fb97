// Package plugin defines the small capability interfaces the navigation
// core is polymorphic over (spec §9 "Plugin dispatch") and a generic,
// name-keyed registry for runtime selection, grounded on the teacher's
// registry.RegisterResourceSubtype / resource.Registration constructor-map
// shape (services/navigation/navigation.go, services/motion/builtin/
// builtin.go init()), simplified since this module has no transport layer
// to also register against.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/Beginner-zzm/navigation/spatialmath"
)

// GlobalPlanner produces a polyline path from a start pose to a goal pose
// over whatever costmap it was constructed with (spec §1, §9). The
// returned Path must begin at (the cell nearest) start and end at (the
// cell nearest) goal — see DESIGN.md's note on the plan-direction open
// question.
type GlobalPlanner interface {
	MakePlan(ctx context.Context, start, goal spatialmath.Pose) (spatialmath.Path, error)
}

// LocalController consumes a path and emits body-frame velocity commands
// (spec §1, §9).
type LocalController interface {
	SetPlan(ctx context.Context, path spatialmath.Path) (bool, error)
	ComputeVelocity(ctx context.Context) (spatialmath.Velocity, error)
	IsGoalReached(ctx context.Context) bool
}

// RecoveryBehavior is a bounded, world-mutating action invoked on failure
// (spec §1, §4.4, §9).
type RecoveryBehavior interface {
	Name() string
	Run(ctx context.Context) error
}

// Rotator is the capability a RecoveryBehavior needs to spin the robot base
// in place; it is a narrow slice of what a real LocalController/Base
// implementation exposes, kept separate so a RecoveryBehavior doesn't need
// the whole LocalController surface.
type Rotator interface {
	Rotate(ctx context.Context, angleRad, angularSpeedRadPerSec float64) error
}

// Constructor builds a T from a bag of named parameters, the shape the
// teacher's resource.Registration constructors take (deps + config).
type Constructor[T any] func(params map[string]interface{}) (T, error)

// Registry is a name-keyed constructor map supporting runtime selection by
// name, per spec §9's "choose any mechanism that supports runtime
// selection by name" instruction.
type Registry[T any] struct {
	mu    sync.Mutex
	ctors map[string]Constructor[T]
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{ctors: make(map[string]Constructor[T])}
}

// Register adds or replaces the constructor for name.
func (r *Registry[T]) Register(name string, ctor Constructor[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Has reports whether name has a registered constructor.
func (r *Registry[T]) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ctors[name]
	return ok
}

// Build constructs the named T, or returns an error if name isn't registered.
func (r *Registry[T]) Build(name string, params map[string]interface{}) (T, error) {
	r.mu.Lock()
	ctor, ok := r.ctors[name]
	r.mu.Unlock()
	var zero T
	if !ok {
		return zero, fmt.Errorf("plugin: no constructor registered for %q", name)
	}
	return ctor(params)
}
