package recovery

import (
	"context"
	"math"

	"github.com/Beginner-zzm/navigation/costmap"
	"github.com/Beginner-zzm/navigation/naverrors"
	"github.com/Beginner-zzm/navigation/navconfig"
	"github.com/Beginner-zzm/navigation/plugin"
)

// The four default behaviors named in spec §4.4: conservative costmap
// clear; in-place rotation; aggressive costmap clear; in-place rotation
// again — both in-place rotations gated on rotation being permitted by
// config.

// ClearCostmapConservative zeroes a small window of the local costmap
// around the robot, the least disruptive recovery: it assumes the map has
// accumulated stale obstacle readings near the robot and gives planning a
// fresh look without discarding anything far away.
type ClearCostmapConservative struct {
	Local      *costmap.Handle
	HalfSizeX  float64
	HalfSizeY  float64
}

// NewClearCostmapConservative builds the conservative clear behavior.
func NewClearCostmapConservative(local *costmap.Handle, halfSizeX, halfSizeY float64) *ClearCostmapConservative {
	return &ClearCostmapConservative{Local: local, HalfSizeX: halfSizeX, HalfSizeY: halfSizeY}
}

// Name returns the behavior's registered name.
func (c *ClearCostmapConservative) Name() string { return "clear_costmap_conservative" }

// Run clears a window of the local costmap centered on the robot's current
// pose.
func (c *ClearCostmapConservative) Run(ctx context.Context) error {
	pose, err := c.Local.GetRobotPose()
	if err != nil {
		return err
	}
	c.Local.ClearWindow(pose.Point.X, pose.Point.Y, c.HalfSizeX, c.HalfSizeY)
	return nil
}

// ClearCostmapAggressive resets every layer of both costmaps entirely: the
// last-resort variant for when a local window clear hasn't unstuck
// planning.
type ClearCostmapAggressive struct {
	Global *costmap.Handle
	Local  *costmap.Handle
}

// NewClearCostmapAggressive builds the aggressive clear behavior.
func NewClearCostmapAggressive(global, local *costmap.Handle) *ClearCostmapAggressive {
	return &ClearCostmapAggressive{Global: global, Local: local}
}

// Name returns the behavior's registered name.
func (c *ClearCostmapAggressive) Name() string { return "clear_costmap_aggressive" }

// Run resets all layers of both costmaps.
func (c *ClearCostmapAggressive) Run(ctx context.Context) error {
	c.Local.ResetLayers()
	c.Global.ResetLayers()
	return nil
}

// RotateInPlace spins the base a fixed angle in place, intended to shake
// loose a local-minimum the controller has gotten stuck in. It is only
// constructed when rotation is permitted by config (spec §4.4).
type RotateInPlace struct {
	Base            plugin.Rotator
	AngleRadians    float64
	AngularSpeed    float64
}

// NewRotateInPlace builds the in-place rotation behavior.
func NewRotateInPlace(base plugin.Rotator, angleRadians, angularSpeed float64) *RotateInPlace {
	return &RotateInPlace{Base: base, AngleRadians: angleRadians, AngularSpeed: angularSpeed}
}

// Name returns the behavior's registered name.
func (r *RotateInPlace) Name() string { return "rotate_in_place" }

// Run rotates the base in place by AngleRadians at AngularSpeed.
func (r *RotateInPlace) Run(ctx context.Context) error {
	if r.Base == nil {
		return naverrors.New(naverrors.RecoveryExhausted, nil)
	}
	angle := r.AngleRadians
	if math.Abs(angle) < 1e-9 {
		angle = math.Pi / 2
	}
	return r.Base.Rotate(ctx, angle, r.AngularSpeed)
}

// DefaultChainParams bundles the constructor arguments for BuildDefaultChain.
type DefaultChainParams struct {
	Global              *costmap.Handle
	Local               *costmap.Handle
	Base                plugin.Rotator
	RotationPermitted   bool
	ConservativeHalfX   float64
	ConservativeHalfY   float64
	RotationAngleRad    float64
	RotationSpeedRadSec float64
}

// NewRegistry builds a plugin.Registry populated with the three built-in
// recovery-behavior types, keyed by the config "type" field (spec §6),
// grounded on loadRecoveryBehaviors's recovery_loader_.createInstance(type)
// dispatch (move_base.cpp ~line 1261), generalized from a pluginlib class
// loader to plugin.Registry. rotate_in_place fails to build when rotation
// isn't permitted, so ChainFromSpecs drops it rather than constructing a
// behavior that would only ever no-op.
func NewRegistry(p DefaultChainParams) *plugin.Registry[plugin.RecoveryBehavior] {
	registry := plugin.NewRegistry[plugin.RecoveryBehavior]()
	registry.Register("clear_costmap_conservative", func(map[string]interface{}) (plugin.RecoveryBehavior, error) {
		return NewClearCostmapConservative(p.Local, p.ConservativeHalfX, p.ConservativeHalfY), nil
	})
	registry.Register("clear_costmap_aggressive", func(map[string]interface{}) (plugin.RecoveryBehavior, error) {
		return NewClearCostmapAggressive(p.Global, p.Local), nil
	})
	registry.Register("rotate_in_place", func(map[string]interface{}) (plugin.RecoveryBehavior, error) {
		if !p.RotationPermitted {
			return nil, naverrors.New(naverrors.RecoveryExhausted, nil)
		}
		return NewRotateInPlace(p.Base, p.RotationAngleRad, p.RotationSpeedRadSec), nil
	})
	return registry
}

// ChainFromSpecs resolves an ordered recovery_behaviors list (spec §6,
// normally already passed through Config.ResolveRecoveryBehaviors) into
// behavior instances by looking each entry's type up in registry, in list
// order. An entry whose type fails to build (unregistered type, or
// rotate_in_place while rotation isn't permitted) is dropped rather than
// aborting the whole chain, matching loadRecoveryBehaviors falling back
// per-behavior instead of erroring the whole node.
func ChainFromSpecs(registry *plugin.Registry[plugin.RecoveryBehavior], specs []navconfig.RecoveryBehaviorSpec) []plugin.RecoveryBehavior {
	behaviors := make([]plugin.RecoveryBehavior, 0, len(specs))
	for _, spec := range specs {
		b, err := registry.Build(spec.Type, nil)
		if err != nil {
			continue
		}
		behaviors = append(behaviors, b)
	}
	return behaviors
}

// BuildDefaultChain constructs the default four-behavior chain from spec
// §4.4: conservative costmap clear; in-place rotation; aggressive costmap
// clear; in-place rotation — via the same NewRegistry/ChainFromSpecs path a
// custom recovery_behaviors list goes through, so the stock chain isn't a
// separate, unwired construction path.
func BuildDefaultChain(p DefaultChainParams) []plugin.RecoveryBehavior {
	return ChainFromSpecs(NewRegistry(p), navconfig.Default().RecoveryBehaviors)
}
