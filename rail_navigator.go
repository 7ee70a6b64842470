package railreader2

import (
	"log/slog"
	"math"
	"time"

	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// NavResult reports whether a line-advance crossed the ends of the
// navigable sequence, in which case the caller (TabState) is expected to
// turn the page.
type NavResult int

const (
	NavOk NavResult = iota
	NavPageBoundaryNext
	NavPageBoundaryPrev
)

// ScrollDir is the hold-to-scroll direction (spec §4.3). Forward scrolls
// text leftward under the viewport.
type ScrollDir int

const (
	ScrollForward ScrollDir = iota
	ScrollBackward
)

// SnapAnim is an in-flight camera interpolation bringing the current line
// onto the rail.
type SnapAnim struct {
	Start, Target Camera
	Elapsed       time.Duration
	Duration      time.Duration
}

// ScrollHold is an in-flight ramped horizontal auto-scroll.
type ScrollHold struct {
	Dir       ScrollDir
	StartCamX float64
	Elapsed   time.Duration
}

// RailState is the navigator's externally observable state: either
// inactive, or active with a block/line cursor and optional snap/scroll
// animations (spec §3, §4.3 state diagram).
type RailState struct {
	Active    bool
	Navigable []int
	CurBlock  int
	CurLine   int
	Snap      *SnapAnim
	Scroll    *ScrollHold
}

// RailNavigator is the rail-mode state machine described in spec §4.3. It
// holds the last PageAnalysis it was given and the timing/geometry
// constants from the configuration schema (spec §6).
type RailNavigator struct {
	Logger *slog.Logger

	RailZoomThreshold float64
	SnapDuration      time.Duration
	ScrollSpeedStart  float64 // points/sec
	ScrollSpeedMax    float64 // points/sec
	ScrollRampTime    float64 // seconds

	analysis PageAnalysis
	state    RailState
}

// NewRailNavigator builds a navigator from the configuration defaults (spec
// §6). A nil logger defaults to slog.Default().
func NewRailNavigator(cfg Config, logger *slog.Logger) *RailNavigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RailNavigator{
		Logger:            logger,
		RailZoomThreshold: cfg.RailZoomThreshold,
		SnapDuration:      time.Duration(cfg.SnapDurationMs * float64(time.Millisecond)),
		ScrollSpeedStart:  cfg.ScrollSpeedStart,
		ScrollSpeedMax:    cfg.ScrollSpeedMax,
		ScrollRampTime:    cfg.ScrollRampTime,
	}
}

// State returns the navigator's current externally observable state.
func (n *RailNavigator) State() RailState { return n.state }

// SetAnalysis recomputes the navigable block list from a fresh
// PageAnalysis, filters by navigableClasses, and resets the cursor and any
// in-flight animation (spec §4.3).
func (n *RailNavigator) SetAnalysis(pa PageAnalysis, navigableClasses map[ClassID]bool) {
	span := ddTracer.StartSpan("RailNavigator.SetAnalysis")
	defer span.Finish()

	n.analysis = pa
	n.state.Navigable = pa.NavigableIndices(navigableClasses)
	n.state.CurBlock = 0
	n.state.CurLine = 0
	n.state.Snap = nil
	n.state.Scroll = nil
	span.SetTag("navigable_count", len(n.state.Navigable))
}

// hasAnalysis reports whether there is at least one navigable block, the
// gate spec §4.3's state diagram calls "has_analysis".
func (n *RailNavigator) hasAnalysis() bool {
	return len(n.state.Navigable) > 0
}

// UpdateZoom transitions between active and inactive rail mode based on
// the current zoom level (spec §4.3, §9 "rail zoom threshold" note: callers
// must re-invoke this whenever a fresh analysis result lands, not only on
// an actual zoom change). The nearest-block lookup maps the viewport center
// through cam's offset at the given zoom, not at cam.Zoom.
func (n *RailNavigator) UpdateZoom(zoom float64, cam Camera, viewport Viewport) {
	if zoom >= n.RailZoomThreshold && n.hasAnalysis() {
		n.state.Active = true
		cam.Zoom = zoom
		n.FindNearestBlock(cam, viewport)
		return
	}
	n.state.Active = false
	n.state.Snap = nil
	n.state.Scroll = nil
}

// FindNearestBlock selects the navigable block whose bbox center is
// closest (Euclidean, in page-points) to the viewport center, and resets
// the line cursor to 0.
func (n *RailNavigator) FindNearestBlock(cam Camera, viewport Viewport) {
	if len(n.state.Navigable) == 0 {
		return
	}
	cx, cy := cam.ScreenToPage(viewport.W/2, viewport.H/2)

	best := 0
	bestDist := math.Inf(1)
	for i, blockIdx := range n.state.Navigable {
		b := n.analysis.Blocks[blockIdx].BBox
		dx := b.CenterX() - cx
		dy := b.CenterY() - cy
		d := dx*dx + dy*dy
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	n.state.CurBlock = best
	n.state.CurLine = 0
}

// currentBlock returns the LayoutBlock the cursor currently points at.
func (n *RailNavigator) currentBlock() LayoutBlock {
	return n.analysis.Blocks[n.state.Navigable[n.state.CurBlock]]
}

func (n *RailNavigator) blockAt(navIdx int) LayoutBlock {
	return n.analysis.Blocks[n.state.Navigable[navIdx]]
}

// NextLine advances the line cursor, overflowing into the next navigable
// block (line reset to 0) when the current block is exhausted. Returns
// NavPageBoundaryNext once the last line of the last navigable block has
// already been reached.
func (n *RailNavigator) NextLine() NavResult {
	block := n.currentBlock()
	if n.state.CurLine+1 < len(block.Lines) {
		n.state.CurLine++
		return NavOk
	}
	if n.state.CurBlock+1 < len(n.state.Navigable) {
		n.state.CurBlock++
		n.state.CurLine = 0
		return NavOk
	}
	return NavPageBoundaryNext
}

// PrevLine is NextLine's mirror image.
func (n *RailNavigator) PrevLine() NavResult {
	if n.state.CurLine > 0 {
		n.state.CurLine--
		return NavOk
	}
	if n.state.CurBlock > 0 {
		n.state.CurBlock--
		n.state.CurLine = len(n.blockAt(n.state.CurBlock).Lines) - 1
		return NavOk
	}
	return NavPageBoundaryPrev
}

// JumpToEnd sets the cursor to the last line of the last navigable block,
// used after crossing a page boundary backward (spec §4.3).
func (n *RailNavigator) JumpToEnd() {
	if len(n.state.Navigable) == 0 {
		return
	}
	n.state.CurBlock = len(n.state.Navigable) - 1
	n.state.CurLine = len(n.currentBlock().Lines) - 1
}

// StartSnapToCurrent begins a timed snap whose target camera places the
// current line's center at viewport.H/2 and the current block's left edge
// at viewport.W*0.05 (spec §4.3, §8 invariant 4, scenario S2).
func (n *RailNavigator) StartSnapToCurrent(cam Camera, zoom float64, viewport Viewport) {
	block := n.currentBlock()
	line := block.Lines[n.state.CurLine]

	target := cam
	target.Zoom = zoom
	target.OffsetX = viewport.W*0.05 - block.BBox.X*zoom
	target.OffsetY = viewport.H/2 - line.YCenter*zoom

	n.state.Snap = &SnapAnim{
		Start:    cam,
		Target:   target,
		Duration: n.SnapDuration,
	}
}

// StartScroll begins (or, for the same direction, no-ops on) hold-to-scroll.
func (n *RailNavigator) StartScroll(dir ScrollDir, camX float64) {
	if n.state.Scroll != nil && n.state.Scroll.Dir == dir {
		return
	}
	n.state.Scroll = &ScrollHold{Dir: dir, StartCamX: camX}
}

// StopScroll ends any in-flight hold-to-scroll.
func (n *RailNavigator) StopScroll() {
	n.state.Scroll = nil
}

// scrollDisplacement is the closed-form integral of the ramped speed curve
// (spec §4.3, §8 invariant 8, scenario S5).
func (n *RailNavigator) scrollDisplacement(t float64) float64 {
	ramp := n.ScrollRampTime
	sStart := n.ScrollSpeedStart
	sMax := n.ScrollSpeedMax
	if ramp <= 0 {
		return sMax * t
	}
	if t <= ramp {
		return sStart*t + (sMax-sStart)*t*t*t/(3*ramp*ramp)
	}
	return sStart*ramp + (sMax-sStart)*ramp/3 + sMax*(t-ramp)
}

// Tick advances snap and scroll animations by dt (clamped elsewhere by the
// frame scheduler) and reports whether the caller must keep animating.
// Elapsed time accumulates per-animation rather than being read from a
// wall clock, so total displacement depends only on the sum of dt values,
// never their chunking (spec §4.3 "using absolute elapsed time... eliminates
// jitter", §8 invariant 8).
func (n *RailNavigator) Tick(cam *Camera, dt time.Duration, zoom float64, viewport Viewport) bool {
	animating := false

	if n.state.Snap != nil {
		s := n.state.Snap
		s.Elapsed += dt
		t := float64(s.Elapsed) / float64(s.Duration)
		if t > 1 {
			t = 1
		}
		eased := 1 - math.Pow(1-t, 3)
		cam.OffsetX = lerp(s.Start.OffsetX, s.Target.OffsetX, eased)
		cam.OffsetY = lerp(s.Start.OffsetY, s.Target.OffsetY, eased)
		if t >= 1 {
			n.state.Snap = nil
		} else {
			animating = true
		}
	}

	if n.state.Scroll != nil {
		n.state.Scroll.Elapsed += dt
		T := n.state.Scroll.Elapsed.Seconds()
		d := n.scrollDisplacement(T)
		sign := -1.0
		if n.state.Scroll.Dir == ScrollBackward {
			sign = 1.0
		}
		raw := n.state.Scroll.StartCamX + sign*d*zoom
		cam.OffsetX = HorizontalClamp(n.currentBlock().BBox, raw, zoom, viewport)
		animating = true
	}

	if cam.ZoomSpeed > 0 {
		animating = true
	}

	return animating
}

// FindBlockAtPoint returns the navigable-list index whose bbox contains
// (pageX, pageY), or ok=false if none does (spec §4.3).
func (n *RailNavigator) FindBlockAtPoint(pageX, pageY float64) (navIdx int, ok bool) {
	for i, blockIdx := range n.state.Navigable {
		b := n.analysis.Blocks[blockIdx].BBox
		if pageX >= b.X && pageX <= b.Right() && pageY >= b.Y && pageY <= b.Bottom() {
			return i, true
		}
	}
	return 0, false
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
