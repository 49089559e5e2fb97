package costmap_test

import (
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/Beginner-zzm/navigation/costmap"
	"github.com/Beginner-zzm/navigation/naverrors"
	"github.com/Beginner-zzm/navigation/spatialmath"
)

func testTime() time.Time { return time.Unix(0, 0) }

func testHandle() *costmap.Handle {
	return costmap.NewHandle(costmap.Config{
		FrameID:    "map",
		OriginX:    0,
		OriginY:    0,
		Resolution: 0.05,
		Width:      200,
		Height:     200,
	}, nil, nil)
}

func TestWorldMapRoundTrip(t *testing.T) {
	h := testHandle()
	mx, my, err := h.WorldToMap(2.5, 3.1)
	test.That(t, err, test.ShouldBeNil)
	wx, wy := h.MapToWorld(mx, my)
	test.That(t, wx-2.5 < 0.05/2+1e-9, test.ShouldBeTrue)
	test.That(t, wy-3.1 < 0.05/2+1e-9, test.ShouldBeTrue)
}

func TestWorldToMapOffMap(t *testing.T) {
	h := testHandle()
	_, _, err := h.WorldToMap(-1, -1)
	test.That(t, naverrors.Is(err, naverrors.OffMap), test.ShouldBeTrue)
}

func TestSetGetCost(t *testing.T) {
	h := testHandle()
	test.That(t, h.SetCost(5, 5, 200), test.ShouldBeNil)
	c, err := h.GetCost(5, 5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, byte(200))
}

func TestResetLayers(t *testing.T) {
	h := testHandle()
	test.That(t, h.SetCost(1, 1, 50), test.ShouldBeNil)
	h.ResetLayers()
	c, err := h.GetCost(1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, byte(0))
}

func TestClearWindow(t *testing.T) {
	h := testHandle()
	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			test.That(t, h.SetCost(x, y, 255), test.ShouldBeNil)
		}
	}
	h.ClearWindow(0.5, 0.5, 0.5, 0.5)
	c, err := h.GetCost(2, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, byte(0))
}

func TestIsCurrentDefaultsTrue(t *testing.T) {
	h := testHandle()
	test.That(t, h.IsCurrent(), test.ShouldBeTrue)
}

func TestIsCurrentDelegates(t *testing.T) {
	stale := false
	h := costmap.NewHandle(costmap.Config{Resolution: 1, Width: 10, Height: 10}, func() bool { return stale }, nil)
	test.That(t, h.IsCurrent(), test.ShouldBeFalse)
	stale = true
	test.That(t, h.IsCurrent(), test.ShouldBeTrue)
}

func TestStopSuppressesStaleness(t *testing.T) {
	stale := true
	h := costmap.NewHandle(costmap.Config{Resolution: 1, Width: 10, Height: 10}, func() bool { return !stale }, nil)
	test.That(t, h.Active(), test.ShouldBeTrue)
	test.That(t, h.IsCurrent(), test.ShouldBeFalse)

	h.Stop()
	test.That(t, h.Active(), test.ShouldBeFalse)
	test.That(t, h.IsCurrent(), test.ShouldBeTrue)

	h.Start()
	test.That(t, h.Active(), test.ShouldBeTrue)
	test.That(t, h.IsCurrent(), test.ShouldBeFalse)
}

func TestClearConvexPolygon(t *testing.T) {
	h := testHandle()
	for x := 0; x < 50; x++ {
		for y := 0; y < 50; y++ {
			test.That(t, h.SetCost(x, y, 255), test.ShouldBeNil)
		}
	}
	square := []spatialmath.Pose{
		spatialmath.NewPose("map", testTime(), 0, 0, 0, 0, 0, 0, 1),
		spatialmath.NewPose("map", testTime(), 1, 0, 0, 0, 0, 0, 1),
		spatialmath.NewPose("map", testTime(), 1, 1, 0, 0, 0, 0, 1),
		spatialmath.NewPose("map", testTime(), 0, 1, 0, 0, 0, 0, 1),
	}
	h.ClearConvexPolygon(square)
	c, err := h.GetCost(10, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldEqual, byte(0))
}
