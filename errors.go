package railreader2

import "errors"

var (
	// ErrDetectorUnavailable is the startup error NewAnalysisWorker records
	// when it is given no Detector, whether because the caller passed one
	// explicitly (model load failed) or because analyzer.Detector is nil.
	// The worker still runs; every request yields the fallback analysis.
	ErrDetectorUnavailable = errors.New("railreader2: detector unavailable")

	// ErrNoDetectionTensor is returned by LayoutAnalyzer.Analyze, alongside
	// a valid empty PageAnalysis, when the detector's output contained no
	// 2-D tensor with at least 6 columns. Not a hard failure; the analysis
	// worker answers with the empty result rather than falling back.
	ErrNoDetectionTensor = errors.New("railreader2: detector returned no usable tensor")

	// ErrRasterizationFailed wraps a rasterizer's RenderPage error inside a
	// TabState re-render. Callers keep the prior cached image.
	ErrRasterizationFailed = errors.New("railreader2: rasterization failed")

	// ErrStalePage marks an analysis result, logged by
	// TabState.HandleAnalysisResult, that arrived after the caller
	// navigated away from the page it was requested for. The result is
	// still cached; it is just not applied to rail state.
	ErrStalePage = errors.New("railreader2: result is for a page no longer current")

	// ErrInvalidPage is returned for an out-of-range page index.
	ErrInvalidPage = errors.New("railreader2: invalid page index")
)

// IsDetectorUnavailable reports whether err is or wraps ErrDetectorUnavailable.
func IsDetectorUnavailable(err error) bool {
	return errors.Is(err, ErrDetectorUnavailable)
}

// IsStalePage reports whether err is or wraps ErrStalePage.
func IsStalePage(err error) bool {
	return errors.Is(err, ErrStalePage)
}

// IsRasterizationFailed reports whether err is or wraps ErrRasterizationFailed.
func IsRasterizationFailed(err error) bool {
	return errors.Is(err, ErrRasterizationFailed)
}
