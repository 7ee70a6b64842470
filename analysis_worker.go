package railreader2

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// AnalysisRequest is one queued (file_path, page) layout-analysis job
// (spec §4.2).
type AnalysisRequest struct {
	FilePath  string
	Page      int
	Pixmap    Pixmap
	PageW     float64
	PageH     float64
	RequestID uuid.UUID
}

// AnalysisResult is the worker's reply to a single AnalysisRequest.
// Fallback is set when the worker is in fallback mode or the detector call
// itself failed for this page; Analysis is always a valid, usable result.
type AnalysisResult struct {
	FilePath  string
	Page      int
	Analysis  PageAnalysis
	Fallback  bool
	RequestID uuid.UUID
}

type analysisKey struct {
	filePath string
	page     int
}

// AnalysisWorker is the single background thread described in spec §4.2: it
// drains an unbounded request queue, tracks in-flight (file_path, page)
// keys so duplicate submissions are rejected rather than queued twice, and
// publishes results onto an unbounded result queue polled from the UI
// thread. It mirrors the Rasterizer actor in faster_raster.go: a condition
// variable stands in for that type's buffered request channel because this
// queue must never apply backpressure.
type AnalysisWorker struct {
	analyzer     *LayoutAnalyzer
	fallbackMode bool

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*AnalysisRequest
	results []AnalysisResult
	inFlt   map[analysisKey]bool
	stopped bool
	drained chan struct{}
}

// NewAnalysisWorker builds a worker around analyzer. startupErr, when
// non-nil, represents a model-load failure (spec §4.2/§7 "Detector
// unavailable"): the worker still runs and still answers every request, but
// every answer is the single-block FallbackAnalysis. A nil startupErr with
// no Detector wired into analyzer is treated the same way, under
// ErrDetectorUnavailable, since there is nothing else the worker could do
// with every request in that case.
func NewAnalysisWorker(analyzer *LayoutAnalyzer, startupErr error) *AnalysisWorker {
	if startupErr == nil && (analyzer == nil || analyzer.Detector == nil) {
		startupErr = ErrDetectorUnavailable
	}
	w := &AnalysisWorker{
		analyzer:     analyzer,
		fallbackMode: startupErr != nil,
		inFlt:        make(map[analysisKey]bool),
		drained:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	if startupErr != nil {
		log.Warnf("analysis worker starting in fallback mode: %s", startupErr)
	}
	return w
}

// Run drains the request queue until Stop is called, then returns once
// every already-queued request has been answered (cooperative
// drain-then-exit, spec §5).
func (w *AnalysisWorker) Run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.stopped {
			w.mu.Unlock()
			close(w.drained)
			return
		}
		req := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		result := w.process(req)

		w.mu.Lock()
		w.results = append(w.results, result)
		delete(w.inFlt, analysisKey{req.FilePath, req.Page})
		w.mu.Unlock()
	}
}

func (w *AnalysisWorker) process(req *AnalysisRequest) AnalysisResult {
	if w.fallbackMode {
		return AnalysisResult{
			FilePath: req.FilePath, Page: req.Page,
			Analysis: FallbackAnalysis(req.PageW, req.PageH),
			Fallback: true, RequestID: req.RequestID,
		}
	}

	analysis, err := w.analyzer.Analyze(context.Background(), req.Pixmap, req.PageW, req.PageH)
	if errors.Is(err, ErrNoDetectionTensor) {
		log.Debugf("no usable tensor for %q page %d, using empty analysis", req.FilePath, req.Page)
		return AnalysisResult{
			FilePath: req.FilePath, Page: req.Page,
			Analysis: analysis, RequestID: req.RequestID,
		}
	}
	if err != nil {
		log.Warnf("analysis failed for %q page %d, using fallback: %s", req.FilePath, req.Page, err)
		return AnalysisResult{
			FilePath: req.FilePath, Page: req.Page,
			Analysis: FallbackAnalysis(req.PageW, req.PageH),
			Fallback: true, RequestID: req.RequestID,
		}
	}
	log.Debugf("analyzed %q page %d: %d blocks", req.FilePath, req.Page, len(analysis.Blocks))
	return AnalysisResult{
		FilePath: req.FilePath, Page: req.Page,
		Analysis: analysis, RequestID: req.RequestID,
	}
}

// Submit enqueues req unless a request for the same (file_path, page) is
// already in flight, per spec §4.2's "exactly once" contract. No accepted
// request is ever silently dropped.
func (w *AnalysisWorker) Submit(req *AnalysisRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false
	}

	key := analysisKey{req.FilePath, req.Page}
	if w.inFlt[key] {
		return false
	}
	req.RequestID = uuid.New()
	w.inFlt[key] = true
	w.queue = append(w.queue, req)
	w.cond.Signal()
	return true
}

// Poll returns the next available result, if any, without blocking.
func (w *AnalysisWorker) Poll() (AnalysisResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.results) == 0 {
		return AnalysisResult{}, false
	}
	r := w.results[0]
	w.results = w.results[1:]
	return r, true
}

// IsIdle reports whether the in-flight set is empty.
func (w *AnalysisWorker) IsIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlt) == 0
}

// Stop closes the request queue for new work and lets Run drain whatever
// remains, then return. Stop itself does not block; wait on the channel
// returned by Drained() to observe completion.
func (w *AnalysisWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Drained returns a channel that is closed once Run has exited after Stop.
func (w *AnalysisWorker) Drained() <-chan struct{} {
	return w.drained
}
