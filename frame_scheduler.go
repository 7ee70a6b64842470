package railreader2

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// maxFrameDt bounds a single Tick's delta so a debugger pause or a
	// dropped frame doesn't snap an animation straight to its end (spec
	// §4.5).
	maxFrameDt = 50 * time.Millisecond

	animationFrameInterval = 16 * time.Millisecond
	pollDriverInterval     = 100 * time.Millisecond
)

// FrameScheduler runs the fixed per-tick work order from spec §4.5 against
// one TabState: advance rail/camera animation, drain worker results,
// request lookahead work, and pick up a completed DPI re-render. It is
// driven by two independent goroutine loops (AnimationDriver, PollDriver)
// that never tick concurrently, coordinated through the inFlight flag the
// same way faster_raster.go serializes its actor against overlapping
// requests.
type FrameScheduler struct {
	Logger   *slog.Logger
	Tab      *TabState
	Worker   *AnalysisWorker
	Config   Config
	Viewport Viewport

	OnInvalidate func()

	lastTick  time.Time
	inFlight  atomic.Bool
	animating atomic.Bool
}

// NewFrameScheduler builds a scheduler for one tab. onInvalidate, if
// non-nil, is called after every tick that changed anything the compositor
// must redraw.
func NewFrameScheduler(tab *TabState, worker *AnalysisWorker, cfg Config, logger *slog.Logger, onInvalidate func()) *FrameScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameScheduler{
		Logger:       logger,
		Tab:          tab,
		Worker:       worker,
		Config:       cfg,
		OnInvalidate: onInvalidate,
	}
}

// Tick runs one pass of the fixed work order and returns whether an
// animation is still in flight (spec §4.5):
//
//  1. compute clamped dt
//  2. advance the rail navigator's snap/scroll animation
//  3. decay the camera's zoom-speed motion-blur metric
//  4. drain available analysis results into the tab
//  5. if the worker is idle, submit one lookahead request
//  6. check whether the DPI tier needs a re-render, and pick up a finished one
//  7. invalidate the view if anything changed
func (s *FrameScheduler) Tick(now time.Time, viewport Viewport) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		return s.animating.Load()
	}
	defer s.inFlight.Store(false)

	s.Viewport = viewport
	var dt time.Duration
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick)
		if dt > maxFrameDt {
			dt = maxFrameDt
		}
		if dt < 0 {
			dt = 0
		}
	}
	s.lastTick = now

	tab := s.Tab
	stillAnimating := tab.Rail.Tick(&tab.Camera, dt, tab.Camera.Zoom, viewport)
	tab.Camera.DecayZoomSpeed(dt)

	changed := stillAnimating
	for {
		res, ok := s.Worker.Poll()
		if !ok {
			break
		}
		tab.HandleAnalysisResult(res, viewport)
		changed = true
	}

	if s.Worker.IsIdle() {
		before := len(tab.LookaheadQueue)
		tab.RequestLookahead(s.Config.AnalysisLookaheadPages)
		if len(tab.LookaheadQueue) != before {
			changed = true
		}
	}

	if neededDPI, need := tab.NeedsRerender(); need {
		if tab.RequestRerender(context.Background(), neededDPI) {
			s.Logger.Debug("rerender requested", "page", tab.CurPage, "dpi", neededDPI)
		}
	}
	if r, ok := tab.PollRerender(); ok {
		tab.ApplyRerender(r)
		changed = true
	}

	if tab.Camera.ZoomSpeed > 0 {
		stillAnimating = true
	}

	s.animating.Store(stillAnimating)
	if changed && s.OnInvalidate != nil {
		s.OnInvalidate()
	}
	return stillAnimating
}

// AnimationDriver re-arms itself once per frame for as long as Tick
// reports an animation in flight, then goes quiet until woken again by
// Wake (spec §4.5 "vsync-driven while animating").
type AnimationDriver struct {
	scheduler *FrameScheduler
	running   atomic.Bool
	stop      chan struct{}
}

// NewAnimationDriver builds a driver bound to scheduler.
func NewAnimationDriver(scheduler *FrameScheduler) *AnimationDriver {
	return &AnimationDriver{scheduler: scheduler, stop: make(chan struct{})}
}

// Wake starts the per-frame timer loop if it isn't already running. Call it
// whenever an animation begins (zoom change, snap, scroll hold).
func (d *AnimationDriver) Wake() {
	if !d.running.CompareAndSwap(false, true) {
		return
	}
	go d.loop()
}

func (d *AnimationDriver) loop() {
	ticker := time.NewTicker(animationFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			d.running.Store(false)
			return
		case now := <-ticker.C:
			if !d.scheduler.Tick(now, d.scheduler.Viewport) {
				d.running.Store(false)
				return
			}
		}
	}
}

// Stop permanently halts the driver.
func (d *AnimationDriver) Stop() {
	close(d.stop)
}

// PollDriver ticks the scheduler at a low fixed frequency whenever the
// analysis worker has outstanding work, so a background result lands
// within about pollDriverInterval even with no animation running (spec
// §4.5 "low-frequency idle poll timer"). It never overlaps the animation
// driver: FrameScheduler.Tick's inFlight flag is shared between the two.
type PollDriver struct {
	scheduler *FrameScheduler
	stop      chan struct{}
}

// NewPollDriver builds a driver bound to scheduler and starts its loop.
func NewPollDriver(scheduler *FrameScheduler) *PollDriver {
	d := &PollDriver{scheduler: scheduler, stop: make(chan struct{})}
	go d.loop()
	return d
}

func (d *PollDriver) loop() {
	ticker := time.NewTicker(pollDriverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			if d.scheduler.Worker.IsIdle() {
				continue
			}
			d.scheduler.Tick(now, d.scheduler.Viewport)
		}
	}
}

// Stop permanently halts the driver.
func (d *PollDriver) Stop() {
	close(d.stop)
}
