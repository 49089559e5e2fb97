// Package costmap implements CostmapHandle (spec §3, §4.1): a thin,
// mutex-guarded wrapper around a 2-D cost grid that is mutated
// asynchronously by sensor layers living outside this module.
package costmap

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/Beginner-zzm/navigation/naverrors"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

// MaxCost is the highest cost byte a cell can carry (lethal obstacle).
const MaxCost = 255.0

// RobotPoser supplies the handle's current pose, mirroring the external TF
// lookup spec §3 describes as get_robot_pose.
type RobotPoser func() (spatialmath.Pose, error)

// FreshnessChecker reports whether the sensor layers backing this costmap
// are within their staleness tolerance (spec §4.1 is_current()).
type FreshnessChecker func() bool

// Handle is a CostmapHandle: coordinate conversion, cell-cost queries,
// window clearing, full reset, and a freshness predicate, all behind one
// mutex that any multi-cell read or write must take (spec §4.1).
//
// The grid is stored as a gonum mat.Dense of cost values (0..255), the
// style the teacher's rimage package uses for width/height indexed pixel
// grids; rows are the map's Y axis, columns its X axis.
type Handle struct {
	mu sync.Mutex

	frameID    string
	originX    float64
	originY    float64
	resolution float64
	grid       *mat.Dense

	isCurrent  FreshnessChecker
	robotPose  RobotPoser
	active     bool
}

// Config describes the static geometry of a costmap at construction time.
type Config struct {
	FrameID    string
	OriginX    float64
	OriginY    float64
	Resolution float64 // meters per cell, must be > 0
	Width      int     // cells
	Height     int     // cells
}

// NewHandle constructs an all-zero-cost grid with the given geometry. The
// freshness and robot-pose callbacks are supplied by whatever owns the
// sensor layers and robot localization; the handle itself never touches
// either concern beyond calling through.
func NewHandle(cfg Config, isCurrent FreshnessChecker, robotPose RobotPoser) *Handle {
	return &Handle{
		frameID:    cfg.FrameID,
		originX:    cfg.OriginX,
		originY:    cfg.OriginY,
		resolution: cfg.Resolution,
		grid:       mat.NewDense(cfg.Height, cfg.Width, nil),
		isCurrent:  isCurrent,
		robotPose:  robotPose,
		active:     true,
	}
}

// GlobalFrame returns the frame this costmap's cells are expressed in.
func (h *Handle) GlobalFrame() string { return h.frameID }

// Resolution returns the grid's meters-per-cell, used by out-of-band
// planning requests to size a search step around an unreachable goal.
func (h *Handle) Resolution() float64 { return h.resolution }

// Mutex exposes the handle's lock so external sensor layers can take it for
// atomic multi-cell mutation, per spec §3/§4.1.
func (h *Handle) Mutex() *sync.Mutex { return &h.mu }

// IsCurrent reports sensor freshness; the FSM treats a false return as a
// hard safety stop (spec §4.1). A deactivated costmap (Stop, spec §3
// shutdown_costmaps) always reports current: nothing is driving off it, so
// staleness of the sensor layers feeding it is moot, matching move_base's
// resetState/executeCb not consulting costmap currency while stopped.
func (h *Handle) IsCurrent() bool {
	h.mu.Lock()
	active := h.active
	h.mu.Unlock()
	if !active {
		return true
	}
	if h.isCurrent == nil {
		return true
	}
	return h.isCurrent()
}

// Active reports whether the costmap is currently started.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Start (re)activates the costmap, mirroring move_base.cpp's
// costmap_ros->start() called from executeCb when a goal begins if
// shutdown_costmaps is set.
func (h *Handle) Start() {
	h.mu.Lock()
	h.active = true
	h.mu.Unlock()
}

// Stop deactivates the costmap, mirroring move_base.cpp::resetState's
// costmap_ros->stop() called once a goal ends if shutdown_costmaps is set
// (spec §3's "pause sensor updates when idle").
func (h *Handle) Stop() {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
}

// GetRobotPose returns the robot's current pose, or a TransformUnavailable
// error if the external TF lookup fails.
func (h *Handle) GetRobotPose() (spatialmath.Pose, error) {
	if h.robotPose == nil {
		return spatialmath.Pose{}, naverrors.New(naverrors.TransformUnavailable, nil)
	}
	p, err := h.robotPose()
	if err != nil {
		return spatialmath.Pose{}, naverrors.New(naverrors.TransformUnavailable, err)
	}
	return p, nil
}

func (h *Handle) dims() (width, height int) {
	r, c := h.grid.Dims()
	return c, r
}

// WorldToMap converts world coordinates to grid cell indices, returning an
// OffMap error if the point falls outside the grid.
func (h *Handle) WorldToMap(wx, wy float64) (mx, my int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.worldToMapLocked(wx, wy)
}

func (h *Handle) worldToMapLocked(wx, wy float64) (int, int, error) {
	width, height := h.dims()
	fx := (wx - h.originX) / h.resolution
	fy := (wy - h.originY) / h.resolution
	mx := int(fx)
	my := int(fy)
	if fx < 0 || fy < 0 || mx >= width || my >= height {
		return 0, 0, naverrors.Newf(naverrors.OffMap, "world (%g, %g) is off the %dx%d map", wx, wy, width, height)
	}
	return mx, my, nil
}

// MapToWorld converts grid cell indices to the world coordinate of the
// cell's center. world_to_map followed by map_to_world is identity up to
// half a cell (spec §8 round-trip property).
func (h *Handle) MapToWorld(mx, my int) (wx, wy float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wx = h.originX + (float64(mx)+0.5)*h.resolution
	wy = h.originY + (float64(my)+0.5)*h.resolution
	return wx, wy
}

// GetCost returns the cost byte at a cell, or an OffMap error.
func (h *Handle) GetCost(mx, my int) (byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	width, height := h.dims()
	if mx < 0 || my < 0 || mx >= width || my >= height {
		return 0, naverrors.Newf(naverrors.OffMap, "cell (%d, %d) is off the %dx%d map", mx, my, width, height)
	}
	return byte(h.grid.At(my, mx)), nil
}

// SetCost sets the cost byte at a cell, or returns an OffMap error.
func (h *Handle) SetCost(mx, my int, cost byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	width, height := h.dims()
	if mx < 0 || my < 0 || mx >= width || my >= height {
		return naverrors.Newf(naverrors.OffMap, "cell (%d, %d) is off the %dx%d map", mx, my, width, height)
	}
	h.grid.Set(my, mx, float64(cost))
	return nil
}

// ClearWindow zeroes the cost of every cell within a centerX±halfSize,
// centerY±halfSize axis-aligned window, in world coordinates. Cells outside
// the grid are silently skipped (clamped), matching a sensor-layer
// window-clear that only needs to affect the overlap.
func (h *Handle) ClearWindow(centerX, centerY, halfSizeX, halfSizeY float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	width, height := h.dims()
	cell := func(w, origin float64) int {
		f := (w - origin) / h.resolution
		if f < 0 {
			return -1
		}
		return int(f)
	}
	minX, maxX := cell(centerX-halfSizeX, h.originX), cell(centerX+halfSizeX, h.originX)
	minY, maxY := cell(centerY-halfSizeY, h.originY), cell(centerY+halfSizeY, h.originY)
	minX, minY = clampInt(minX, 0, width), clampInt(minY, 0, height)
	maxX, maxY = clampInt(maxX, -1, width-1), clampInt(maxY, -1, height-1)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			h.grid.Set(y, x, 0)
		}
	}
}

// ClearConvexPolygon zeroes the cost of every cell whose center lies inside
// the convex polygon described by points (world coordinates), using a
// standard even-odd ray-casting test restricted to the polygon's bounding
// box for efficiency.
func (h *Handle) ClearConvexPolygon(points []spatialmath.Pose) {
	if len(points) < 3 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	width, height := h.dims()

	minWX, minWY := points[0].Point.X, points[0].Point.Y
	maxWX, maxWY := minWX, minWY
	for _, p := range points[1:] {
		minWX, maxWX = minF(minWX, p.Point.X), maxF(maxWX, p.Point.X)
		minWY, maxWY = minF(minWY, p.Point.Y), maxF(maxWY, p.Point.Y)
	}
	minX, minY, errMin := h.worldToMapLocked(minWX, minWY)
	maxX, maxY, errMax := h.worldToMapLocked(maxWX, maxWY)
	if errMin != nil {
		minX, minY = 0, 0
	}
	if errMax != nil {
		maxX, maxY = width-1, height-1
	}
	minX, minY = clampInt(minX, 0, width-1), clampInt(minY, 0, height-1)
	maxX, maxY = clampInt(maxX, 0, width-1), clampInt(maxY, 0, height-1)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			wx := h.originX + (float64(x)+0.5)*h.resolution
			wy := h.originY + (float64(y)+0.5)*h.resolution
			if pointInPolygon(wx, wy, points) {
				h.grid.Set(y, x, 0)
			}
		}
	}
}

// ResetLayers zeroes every cell cost in the grid (spec §4.1/§6 clear-costmaps).
func (h *Handle) ResetLayers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grid.Zero()
}

func pointInPolygon(x, y float64, poly []spatialmath.Pose) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := poly[i].Point.X, poly[i].Point.Y
		xj, yj := poly[j].Point.X, poly[j].Point.Y
		if (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
