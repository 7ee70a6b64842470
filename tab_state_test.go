package railreader2

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubRasterizer struct {
	pageCount  int
	w, h       float64
	renderErr  error
	renderDPIs []float64
}

func (s *stubRasterizer) PageCount(ctx context.Context) (int, error) { return s.pageCount, nil }

func (s *stubRasterizer) PageSize(ctx context.Context, page int) (float64, float64, error) {
	return s.w, s.h, nil
}

func (s *stubRasterizer) RenderPage(ctx context.Context, page int, dpi float64) (RasterImage, error) {
	s.renderDPIs = append(s.renderDPIs, dpi)
	if s.renderErr != nil {
		return RasterImage{}, s.renderErr
	}
	return RasterImage{W: 10, H: 10, DPI: dpi}, nil
}

func (s *stubRasterizer) RenderPixmap(ctx context.Context, page int, targetSize int) (Pixmap, error) {
	return whitePixmap(targetSize, targetSize), nil
}

func newTestTabState(t *testing.T, r *stubRasterizer, w *AnalysisWorker) *TabState {
	t.Helper()
	rail := NewRailNavigator(DefaultConfig(), nil)
	navigable := map[ClassID]bool{ClassText: true}
	return NewTabState("doc.pdf", r.pageCount, r, w, navigable, rail, nil)
}

func TestTabStateOpenPageSubmitsAnalysisWhenUncached(t *testing.T) {
	r := &stubRasterizer{pageCount: 5, w: 612, h: 792}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	require.NoError(t, tab.OpenPage(context.Background(), 0))
	require.True(t, tab.PendingRailSetup)

	result := pollUntil(t, w)
	viewport := Viewport{W: 1000, H: 700}
	tab.HandleAnalysisResult(result, viewport)

	require.False(t, tab.PendingRailSetup)
	require.Contains(t, tab.AnalysisCache, 0)
}

func TestTabStateOpenPageUsesCachedAnalysis(t *testing.T) {
	r := &stubRasterizer{pageCount: 5, w: 612, h: 792}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	tab.AnalysisCache[2] = FallbackAnalysis(612, 792)

	require.NoError(t, tab.OpenPage(context.Background(), 2))
	require.False(t, tab.PendingRailSetup)
	require.True(t, w.IsIdle())
}

func TestTabStateOpenPageRejectsOutOfRange(t *testing.T) {
	r := &stubRasterizer{pageCount: 3, w: 612, h: 792}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	err := tab.OpenPage(context.Background(), 9)
	require.ErrorIs(t, err, ErrInvalidPage)
}

func TestTabStateStaleResultIsCachedButNotApplied(t *testing.T) {
	r := &stubRasterizer{pageCount: 5, w: 612, h: 792}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	require.NoError(t, tab.OpenPage(context.Background(), 0))
	require.NoError(t, tab.OpenPage(context.Background(), 1)) // navigate away before result arrives

	stale := AnalysisResult{FilePath: "doc.pdf", Page: 0, Analysis: FallbackAnalysis(612, 792)}
	tab.HandleAnalysisResult(stale, Viewport{W: 1000, H: 700})

	require.Contains(t, tab.AnalysisCache, 0)
	require.True(t, tab.PendingRailSetup) // page 1's own request is still pending
}

func TestTabStateRerenderAppliesOnSamePage(t *testing.T) {
	r := &stubRasterizer{pageCount: 5, w: 612, h: 792}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	require.NoError(t, tab.OpenPage(context.Background(), 0))

	require.True(t, tab.RequestRerender(context.Background(), 300))
	require.False(t, tab.RequestRerender(context.Background(), 400)) // already in flight

	var res rerenderResult
	require.Eventually(t, func() bool {
		var ok bool
		res, ok = tab.PollRerender()
		return ok
	}, time.Second, time.Millisecond)

	tab.ApplyRerender(res)
	require.Equal(t, 300.0, tab.CachedDPI)
}

func TestTabStateRerenderDiscardedAfterNavigation(t *testing.T) {
	r := &stubRasterizer{pageCount: 5, w: 612, h: 792}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	require.NoError(t, tab.OpenPage(context.Background(), 0))
	tab.RequestRerender(context.Background(), 300)

	var res rerenderResult
	require.Eventually(t, func() bool {
		var ok bool
		res, ok = tab.PollRerender()
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, tab.OpenPage(context.Background(), 1))
	tab.ApplyRerender(res)
	require.Equal(t, 0.0, tab.CachedDPI)
}

type closingRasterizer struct {
	stubRasterizer
	closed   bool
	closeErr error
}

func (c *closingRasterizer) Close() error {
	c.closed = true
	return c.closeErr
}

func TestTabStateCloseClosesRasterizer(t *testing.T) {
	r := &closingRasterizer{stubRasterizer: stubRasterizer{pageCount: 5, w: 612, h: 792}}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	rail := NewRailNavigator(DefaultConfig(), nil)
	tab := NewTabState("doc.pdf", r.pageCount, r, w, map[ClassID]bool{ClassText: true}, rail, nil)
	require.NoError(t, tab.OpenPage(context.Background(), 0))

	require.NoError(t, tab.Close())
	require.True(t, r.closed)
}

func TestTabStateCloseJoinsDrainedRerenderError(t *testing.T) {
	failing := &stubRasterizer{pageCount: 5, w: 612, h: 792, renderErr: ErrRasterizationFailed}
	r := &closingRasterizer{stubRasterizer: *failing}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	rail := NewRailNavigator(DefaultConfig(), nil)
	tab := NewTabState("doc.pdf", r.pageCount, r, w, map[ClassID]bool{ClassText: true}, rail, nil)
	require.NoError(t, tab.OpenPage(context.Background(), 0))
	tab.RequestRerender(context.Background(), 300)

	require.Eventually(t, func() bool {
		return len(tab.rerenderCh) > 0
	}, time.Second, time.Millisecond)

	err := tab.Close()
	require.ErrorIs(t, err, ErrRasterizationFailed)
}

func TestTabStateRerenderFailureKeepsPriorImage(t *testing.T) {
	r := &stubRasterizer{pageCount: 5, w: 612, h: 792, renderErr: ErrRasterizationFailed}
	w := NewAnalysisWorker(NewLayoutAnalyzer(nil, nil), nil)
	go w.Run()
	defer func() { w.Stop(); <-w.Drained() }()

	tab := newTestTabState(t, r, w)
	require.NoError(t, tab.OpenPage(context.Background(), 0))
	tab.CachedImage = RasterImage{DPI: 150}
	tab.CachedDPI = 150

	tab.RequestRerender(context.Background(), 300)
	var res rerenderResult
	require.Eventually(t, func() bool {
		var ok bool
		res, ok = tab.PollRerender()
		return ok
	}, time.Second, time.Millisecond)

	tab.ApplyRerender(res)
	require.Equal(t, 150.0, tab.CachedDPI)
	require.True(t, tab.RailActivationSuppressed(0))
}
