package railreader2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// TabState is the per-document state described in spec §3: page cursor,
// camera, rasterized image at a DPI tier, analysis cache, and lookahead
// queue. It owns its camera, rail navigator, image, and analysis cache
// exclusively; the analysis worker only ever hands it immutable
// PageAnalysis values.
type TabState struct {
	Logger *slog.Logger

	FilePath  string
	PageCount int
	CurPage   int
	PageW     float64
	PageH     float64

	Camera Camera
	Rail   *RailNavigator

	CachedImage RasterImage
	CachedDPI   float64

	AnalysisCache    map[int]PageAnalysis
	LookaheadQueue   []int
	PendingRailSetup bool

	NavigableClasses map[ClassID]bool

	rasterizer       Rasterizer
	worker           *AnalysisWorker
	rerenderInFlight bool
	rerenderCh       chan rerenderResult
	rasterFailed     map[int]bool
	cancelRerender   context.CancelFunc
}

type rerenderResult struct {
	Page  int
	Image RasterImage
	DPI   float64
	Err   error
}

// NewTabState opens book-keeping for a document. Call OpenPage to actually
// position the cursor on a page.
func NewTabState(filePath string, pageCount int, rasterizer Rasterizer, worker *AnalysisWorker, navigableClasses map[ClassID]bool, rail *RailNavigator, logger *slog.Logger) *TabState {
	if logger == nil {
		logger = slog.Default()
	}
	return &TabState{
		Logger:           logger,
		FilePath:         filePath,
		PageCount:        pageCount,
		Camera:           NewCamera(),
		Rail:             rail,
		AnalysisCache:    make(map[int]PageAnalysis),
		NavigableClasses: navigableClasses,
		rasterizer:       rasterizer,
		worker:           worker,
		rerenderCh:       make(chan rerenderResult, 1),
		rasterFailed:     make(map[int]bool),
	}
}

// OpenPage moves the cursor to page, fetches its point dimensions, resets
// rail state (spec §3 "RailState is reset on page change"), and either
// applies a cached analysis immediately or submits a background request and
// marks PendingRailSetup so a later result still gets wired into rail mode
// (spec §9's "pending_rail_setup" subtlety).
func (t *TabState) OpenPage(ctx context.Context, page int) (err error) {
	span, ctx := ddTracer.StartSpanFromContext(ctx, "TabState.OpenPage")
	span.SetTag("page", page)
	defer func() { span.Finish(ddTracer.WithError(err)) }()

	if page < 0 || page >= t.PageCount {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	w, h, err := t.rasterizer.PageSize(ctx, page)
	if err != nil {
		return fmt.Errorf("page size: %w", err)
	}

	t.CurPage = page
	t.PageW, t.PageH = w, h
	t.Rail.analysis = PageAnalysis{}
	t.Rail.state = RailState{}
	t.PendingRailSetup = false

	if pa, ok := t.AnalysisCache[page]; ok {
		t.Rail.SetAnalysis(pa, t.NavigableClasses)
		return nil
	}

	t.PendingRailSetup = true
	t.submitAnalysis(page)
	return nil
}

func (t *TabState) submitAnalysis(page int) {
	ctx := context.Background()
	pm, err := t.rasterizer.RenderPixmap(ctx, page, TensorSize)
	if err != nil {
		t.Logger.Warn("pixmap render failed, cannot submit analysis", "page", page, "error", err)
		return
	}
	w, h, err := t.rasterizer.PageSize(ctx, page)
	if err != nil {
		t.Logger.Warn("page size lookup failed, cannot submit analysis", "page", page, "error", err)
		return
	}
	t.worker.Submit(&AnalysisRequest{
		FilePath: t.FilePath,
		Page:     page,
		Pixmap:   pm,
		PageW:    w,
		PageH:    h,
	})
}

// HandleAnalysisResult caches a worker result for its page unconditionally
// (spec §7 "Stale result": cheap benefit, cache it anyway) and, only if the
// result is for the page currently open and rail setup is pending, installs
// it into the rail navigator and re-evaluates UpdateZoom immediately per
// §9's note that a freshly-arrived analysis must not wait for the next zoom
// change to take effect.
func (t *TabState) HandleAnalysisResult(result AnalysisResult, viewport Viewport) {
	if result.FilePath != t.FilePath {
		return
	}
	t.AnalysisCache[result.Page] = result.Analysis

	if result.Page != t.CurPage {
		t.Logger.Debug("discarding analysis result for a page no longer open", "error", ErrStalePage, "page", result.Page, "cur_page", t.CurPage)
		return
	}
	if !t.PendingRailSetup {
		return
	}

	t.PendingRailSetup = false
	t.Rail.SetAnalysis(result.Analysis, t.NavigableClasses)
	t.Rail.UpdateZoom(t.Camera.Zoom, t.Camera, viewport)
	if t.Rail.state.Active {
		t.Rail.StartSnapToCurrent(t.Camera, t.Camera.Zoom, viewport)
	}
}

// RequestLookahead refills LookaheadQueue with up to n pages following
// CurPage that aren't already cached, and submits an analysis request for
// the first of them only (spec §6 analysis_lookahead_pages, §4.5 "if idle,
// submit one lookahead pixmap"). A page already in flight is rejected by
// the worker's Submit.
func (t *TabState) RequestLookahead(n int) {
	t.LookaheadQueue = t.LookaheadQueue[:0]
	for offset := 1; offset <= n; offset++ {
		page := t.CurPage + offset
		if page >= t.PageCount {
			break
		}
		if _, cached := t.AnalysisCache[page]; cached {
			continue
		}
		t.LookaheadQueue = append(t.LookaheadQueue, page)
	}
	if len(t.LookaheadQueue) == 0 {
		return
	}
	t.submitAnalysis(t.LookaheadQueue[0])
}

// NeedsRerender reports whether the DPI tier the current zoom calls for has
// drifted far enough from CachedDPI to warrant an upgrade, and what DPI to
// render at.
func (t *TabState) NeedsRerender() (neededDPI float64, need bool) {
	needed := RasterDPI(t.Camera.Zoom)
	return needed, NeedsRerender(needed, t.CachedDPI)
}

// RequestRerender kicks off an asynchronous re-rasterization of the current
// page at neededDPI. DPI upgrades are serialized per tab: a second upgrade
// cannot start until the pending one completes or is discarded (spec §5).
func (t *TabState) RequestRerender(ctx context.Context, neededDPI float64) bool {
	if t.rerenderInFlight {
		return false
	}
	t.rerenderInFlight = true
	page := t.CurPage

	renderCtx, cancel := context.WithCancel(ctx)
	t.cancelRerender = cancel

	go func() {
		img, err := t.rasterizer.RenderPage(renderCtx, page, neededDPI)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrRasterizationFailed, err)
		}
		t.rerenderCh <- rerenderResult{Page: page, Image: img, DPI: neededDPI, Err: err}
	}()
	return true
}

// PollRerender returns a completed re-render, if any, without blocking.
func (t *TabState) PollRerender() (rerenderResult, bool) {
	select {
	case r := <-t.rerenderCh:
		return r, true
	default:
		return rerenderResult{}, false
	}
}

// ApplyRerender installs a completed re-render's image, or discards it if
// the user navigated to a different page while it was in flight (spec §5
// "If the user navigates pages before completion, the result is
// discarded"). On failure it logs and keeps the prior CachedImage (spec §7
// "Rasterization failure"). The new image fully replaces the old reference
// in one assignment; Go's garbage collector reclaims the old buffer once
// nothing (including an in-progress compositor read) still references it,
// so there is no explicit disposal step (spec §5 "Image lifetime across
// threads").
func (t *TabState) ApplyRerender(res rerenderResult) {
	t.rerenderInFlight = false

	if res.Err != nil {
		t.Logger.Warn("rasterization failed, keeping prior image", "page", res.Page, "error", res.Err)
		t.rasterFailed[res.Page] = true
		return
	}

	if res.Page != t.CurPage {
		return
	}

	t.rasterFailed[res.Page] = false
	t.CachedImage = res.Image
	t.CachedDPI = res.DPI
}

// RailActivationSuppressed reports whether a rasterization failure on this
// page should keep rail mode from activating until a subsequent load
// succeeds (spec §7).
func (t *TabState) RailActivationSuppressed(page int) bool {
	return t.rasterFailed[page]
}

// Close releases the tab's resources: it cancels any in-flight re-render,
// drains its result if one had already landed, and closes the rasterizer
// if it implements io.Closer. Both failure sources are reported together,
// the same way pdf_handler.go's ClosePDF joins its C close error with its
// temp-file removal error rather than discarding one silently.
func (t *TabState) Close() error {
	if t.cancelRerender != nil {
		t.cancelRerender()
	}

	var drainErr error
	select {
	case res := <-t.rerenderCh:
		drainErr = res.Err
	default:
	}

	var closeErr error
	if closer, ok := t.rasterizer.(io.Closer); ok {
		closeErr = closer.Close()
	}

	return errors.Join(drainErr, closeErr)
}
