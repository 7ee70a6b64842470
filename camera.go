package railreader2

import (
	"math"
	"time"

	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const (
	// ZoomMin and ZoomMax bound Camera.Zoom (spec §4.4).
	ZoomMin = 0.1
	ZoomMax = 20.0

	// DPI tier bounds and hysteresis thresholds (spec §4.4).
	dpiMin            = 150.0
	dpiMax            = 600.0
	dpiPointsPerZoom  = 150.0
	dpiUpgradeFactor  = 1.4
	dpiDowngradeFactor = 0.4

	// zoomSpeedHalfLifeMs is the exponential decay half-life for
	// Camera.ZoomSpeed, the motion-blur metric (spec §3).
	zoomSpeedHalfLifeMs = 80.0
)

// Viewport is the on-screen drawing surface size in device-independent
// pixels.
type Viewport struct {
	W, H float64
}

// Camera is the screen-space transform: screen = offset + zoom*page.
type Camera struct {
	OffsetX, OffsetY float64
	Zoom             float64
	ZoomSpeed        float64
}

// NewCamera returns a camera at zoom 1 with no offset.
func NewCamera() Camera {
	return Camera{Zoom: 1}
}

// PageToScreen maps a page-point coordinate into screen space.
func (c Camera) PageToScreen(px, py float64) (sx, sy float64) {
	return c.OffsetX + c.Zoom*px, c.OffsetY + c.Zoom*py
}

// ScreenToPage maps a screen coordinate back into page-point space.
func (c Camera) ScreenToPage(sx, sy float64) (px, py float64) {
	return (sx - c.OffsetX) / c.Zoom, (sy - c.OffsetY) / c.Zoom
}

// ClampZoom returns z clamped to [ZoomMin, ZoomMax].
func ClampZoom(z float64) float64 {
	return clampf(z, ZoomMin, ZoomMax)
}

// SetZoom applies a new zoom value, clamping it and resetting ZoomSpeed to
// 1, the decaying motion-blur metric's reset-on-zoom-change rule (spec §3).
func (c *Camera) SetZoom(z float64) {
	c.Zoom = ClampZoom(z)
	c.ZoomSpeed = 1
}

// ZoomAtCursor performs cursor-anchored zoom (spec §4.4): the page-point
// under the cursor is preserved across the zoom change.
//
//	offset' = cursor - (cursor - offset) * (z'/z)
func (c *Camera) ZoomAtCursor(cursorX, cursorY, newZoom float64) {
	z := c.Zoom
	zp := ClampZoom(newZoom)
	ratio := zp / z
	c.OffsetX = cursorX - (cursorX-c.OffsetX)*ratio
	c.OffsetY = cursorY - (cursorY-c.OffsetY)*ratio
	c.Zoom = zp
	c.ZoomSpeed = 1
}

// FitPage sets zoom and offset so the whole page is visible and centered
// (spec §4.4).
func (c *Camera) FitPage(viewport Viewport, pageW, pageH float64) {
	span := ddTracer.StartSpan("Camera.FitPage")
	defer span.Finish()

	z := math.Min(viewport.W/pageW, viewport.H/pageH)
	c.Zoom = ClampZoom(z)
	c.ZoomSpeed = 1
	scaledW := pageW * c.Zoom
	scaledH := pageH * c.Zoom
	c.OffsetX = (viewport.W - scaledW) / 2
	c.OffsetY = (viewport.H - scaledH) / 2
}

// ClampToViewport enforces spec §4.4's viewport clamp: center an axis that
// fits entirely inside the viewport, otherwise keep the page's edges from
// leaving the viewport on that axis. Also the basis for §8 invariant 3.
func (c *Camera) ClampToViewport(viewport Viewport, pageW, pageH float64) {
	scaledW := pageW * c.Zoom
	scaledH := pageH * c.Zoom

	if scaledW <= viewport.W {
		c.OffsetX = (viewport.W - scaledW) / 2
	} else {
		c.OffsetX = clampf(c.OffsetX, viewport.W-scaledW, 0)
	}

	if scaledH <= viewport.H {
		c.OffsetY = (viewport.H - scaledH) / 2
	} else {
		c.OffsetY = clampf(c.OffsetY, viewport.H-scaledH, 0)
	}
}

// DecayZoomSpeed advances the zoom-speed motion-blur metric by dt,
// exponentially decaying with an ~80ms half-life (spec §3).
func (c *Camera) DecayZoomSpeed(dt time.Duration) {
	if c.ZoomSpeed == 0 {
		return
	}
	ms := float64(dt.Milliseconds())
	decay := math.Pow(0.5, ms/zoomSpeedHalfLifeMs)
	c.ZoomSpeed *= decay
	if c.ZoomSpeed < 1e-4 {
		c.ZoomSpeed = 0
	}
}

// RasterDPI returns the raster DPI tier for a given zoom (spec §4.4).
func RasterDPI(zoom float64) float64 {
	return clampf(zoom*dpiPointsPerZoom, dpiMin, dpiMax)
}

// NeedsRerender reports whether the DPI needed for the current zoom has
// drifted far enough from the cached DPI to warrant an asynchronous
// re-render (spec §4.4's hysteresis band).
func NeedsRerender(neededDPI, cachedDPI float64) bool {
	if neededDPI > cachedDPI*dpiUpgradeFactor {
		return true
	}
	if neededDPI < cachedDPI*dpiDowngradeFactor && cachedDPI > dpiMin {
		return true
	}
	return false
}

// HorizontalClamp computes the camera x-offset that keeps a block on the
// rail: centered if it (plus a 5% margin on each side) fits in the
// viewport, otherwise clamped so the block's edges never leave the
// viewport (spec §4.3 "Horizontal clamp").
func HorizontalClamp(block BBox, camX, zoom float64, viewport Viewport) float64 {
	margin := 0.05 * block.W
	if (block.W+2*margin)*zoom <= viewport.W {
		return viewport.W/2 - block.CenterX()*zoom
	}
	minX := viewport.W - block.Right()*zoom
	maxX := -block.X * zoom
	return clampf(camX, minX, maxX)
}
