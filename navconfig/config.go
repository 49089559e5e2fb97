// Package navconfig defines the navigation core's configuration surface
// (spec §3 options table, §6 configuration surface) and its validation,
// in the teacher's convention of a plain struct with a Validate method
// returning descriptive field-path errors rather than silently defaulting.
package navconfig

import "fmt"

// RecoveryBehaviorSpec names one entry of the ordered recovery_behaviors
// list (spec §6): a unique name and the registered type to construct.
type RecoveryBehaviorSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Config is the navigation core's full configuration surface: the options
// table from spec §3 plus the plugin-selection fields from spec §6.
type Config struct {
	PlannerFrequencyHz    float64 `json:"planner_frequency"`
	ControllerFrequencyHz float64 `json:"controller_frequency"`
	PlannerPatienceSec    float64 `json:"planner_patience"`
	ControllerPatienceSec float64 `json:"controller_patience"`
	MaxPlanningRetries    int     `json:"max_planning_retries"`
	OscillationTimeoutSec float64 `json:"oscillation_timeout"`
	OscillationDistanceM  float64 `json:"oscillation_distance"`
	ConservativeResetDist float64 `json:"conservative_reset_dist"`
	ClearingRadiusM       float64 `json:"clearing_radius"`
	RecoveryBehaviorEnabled bool  `json:"recovery_behavior_enabled"`
	ShutdownCostmaps      bool    `json:"shutdown_costmaps"`
	MakePlanClearCostmap  bool    `json:"make_plan_clear_costmap"`
	MakePlanAddUnreachableGoal bool `json:"make_plan_add_unreachable_goal"`
	RotationPermitted     bool    `json:"rotation_permitted"`

	BaseGlobalPlanner  string                 `json:"base_global_planner"`
	BaseLocalController string                `json:"base_local_controller"`
	RecoveryBehaviors  []RecoveryBehaviorSpec  `json:"recovery_behaviors"`
}

// Default returns the configuration spec §6 calls out as defaults: a
// continuous planner, a 20 Hz control loop, oscillation disabled unless
// configured, unlimited planning retries, and the stock four-behavior
// recovery chain built by recovery.BuildDefaultChain.
func Default() Config {
	return Config{
		PlannerFrequencyHz:      1.0,
		ControllerFrequencyHz:   20.0,
		PlannerPatienceSec:      5.0,
		ControllerPatienceSec:   5.0,
		MaxPlanningRetries:      -1,
		OscillationTimeoutSec:   0,
		OscillationDistanceM:    0.5,
		ConservativeResetDist:   0.5,
		ClearingRadiusM:         1.0,
		RecoveryBehaviorEnabled: true,
		ShutdownCostmaps:        false,
		MakePlanClearCostmap:    false,
		MakePlanAddUnreachableGoal: false,
		RotationPermitted:       true,
		BaseGlobalPlanner:       "default",
		BaseLocalController:     "default",
		RecoveryBehaviors: []RecoveryBehaviorSpec{
			{Name: "clear_costmap_conservative", Type: "clear_costmap_conservative"},
			{Name: "rotate_in_place_1", Type: "rotate_in_place"},
			{Name: "clear_costmap_aggressive", Type: "clear_costmap_aggressive"},
			{Name: "rotate_in_place_2", Type: "rotate_in_place"},
		},
	}
}

// Validate checks every field for a sane value, returning one descriptive
// message per problem found (field path first) plus a non-nil error iff
// any problems were found, matching the teacher's "never partially-apply
// defaults silently" convention (services/motion/builtin/builtin.go,
// components/board/fake/board.go's config Validate methods).
func (c Config) Validate(path string) ([]string, error) {
	var problems []string
	add := func(field, msg string) {
		problems = append(problems, fmt.Sprintf("%s.%s: %s", path, field, msg))
	}

	if c.ControllerFrequencyHz <= 0 {
		add("controller_frequency", "must be > 0")
	}
	if c.PlannerFrequencyHz < 0 {
		add("planner_frequency", "must be >= 0 (0 means plan-once)")
	}
	if c.PlannerPatienceSec <= 0 {
		add("planner_patience", "must be > 0")
	}
	if c.ControllerPatienceSec <= 0 {
		add("controller_patience", "must be > 0")
	}
	if c.OscillationTimeoutSec < 0 {
		add("oscillation_timeout", "must be >= 0 (0 means disabled)")
	}
	if c.OscillationDistanceM <= 0 {
		add("oscillation_distance", "must be > 0")
	}
	if c.ConservativeResetDist <= 0 {
		add("conservative_reset_dist", "must be > 0")
	}
	if c.ClearingRadiusM <= 0 {
		add("clearing_radius", "must be > 0")
	}
	if c.BaseGlobalPlanner == "" {
		add("base_global_planner", "must be set")
	}
	if c.BaseLocalController == "" {
		add("base_local_controller", "must be set")
	}

	seen := make(map[string]bool, len(c.RecoveryBehaviors))
	for _, b := range c.RecoveryBehaviors {
		if b.Name == "" {
			add("recovery_behaviors", "entry has an empty name")
			continue
		}
		if seen[b.Name] {
			add("recovery_behaviors", fmt.Sprintf("duplicate name %q; falling back to defaults", b.Name))
		}
		seen[b.Name] = true
	}

	if len(problems) > 0 {
		return problems, fmt.Errorf("%s: %d configuration problem(s)", path, len(problems))
	}
	return nil, nil
}

// ResolveRecoveryBehaviors returns c.RecoveryBehaviors unless it contains a
// duplicate or empty name, in which case it falls back to Default().RecoveryBehaviors
// per spec §6 ("duplicate names ⇒ fall back to defaults").
func (c Config) ResolveRecoveryBehaviors() []RecoveryBehaviorSpec {
	seen := make(map[string]bool, len(c.RecoveryBehaviors))
	for _, b := range c.RecoveryBehaviors {
		if b.Name == "" || seen[b.Name] {
			return Default().RecoveryBehaviors
		}
		seen[b.Name] = true
	}
	return c.RecoveryBehaviors
}
