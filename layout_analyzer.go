package railreader2

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"sort"

	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/fixed"
)

// TensorSize is the fixed square side (T in spec §4.1) the detector expects.
const TensorSize = 800

const (
	minConfidence  = 0.4
	nmsIoUThresh   = 0.5
	minBoxPixels   = 5.0
	lineRunMinRows = 3
)

// LayoutAnalyzer runs the detection pipeline described in spec §4.1: it
// turns a coarse pixmap plus page-point dimensions into a PageAnalysis.
type LayoutAnalyzer struct {
	Detector Detector
	Logger   *slog.Logger
}

// NewLayoutAnalyzer builds an analyzer around a Detector. A nil logger
// defaults to slog.Default(), the convention TabState and friends share.
func NewLayoutAnalyzer(detector Detector, logger *slog.Logger) *LayoutAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LayoutAnalyzer{Detector: detector, Logger: logger}
}

// Analyze runs the full pipeline against one coarse pixmap. It is
// deterministic for fixed inputs (spec §4.1, §8 invariant 7). When the
// detector's output carries no usable tensor, it returns a valid empty
// PageAnalysis alongside ErrNoDetectionTensor rather than a hard failure;
// callers that care about the distinction use errors.Is, but treating the
// result as Blocks == nil is also correct.
func (a *LayoutAnalyzer) Analyze(ctx context.Context, pm Pixmap, pageW, pageH float64) (pa PageAnalysis, err error) {
	span, ctx := ddTracer.StartSpanFromContext(ctx, "LayoutAnalyzer.Analyze")
	span.SetTag("px_w", pm.W)
	span.SetTag("px_h", pm.H)
	defer func() { span.Finish(ddTracer.WithError(err)) }()

	pa = PageAnalysis{PageW: pageW, PageH: pageH}

	if a.Detector == nil {
		return FallbackAnalysis(pageW, pageH), nil
	}

	imShape, imageTensor, scaleFactor := preprocess(pm)

	raw, err := a.Detector.Run(ctx, imShape, imageTensor, scaleFactor)
	if err != nil {
		return PageAnalysis{}, fmt.Errorf("detector run: %w", err)
	}

	if raw.Cols() < 6 {
		a.Logger.Warn("detector returned no usable tensor", "cols", raw.Cols(), "error", ErrNoDetectionTensor)
		span.SetTag("empty_analysis", true)
		return pa, ErrNoDetectionTensor
	}

	blocks := filterDetections(raw, pm.W, pm.H)
	blocks = nonMaxSuppress(blocks)
	blocks = normalizeReadingOrder(blocks)

	pa.Blocks = make([]LayoutBlock, len(blocks))
	for i, d := range blocks {
		lines := detectLines(pm, d.px)
		pa.Blocks[i] = LayoutBlock{
			BBox:       pixelBoxToPoints(d.px, pm.W, pm.H, pageW, pageH),
			ClassID:    d.class,
			Confidence: d.confidence,
			Order:      uint32(i),
			Lines:      convertLines(lines, d.px, pm.W, pm.H, pageW, pageH),
		}
	}

	span.SetTag("block_count", len(pa.Blocks))
	return pa, nil
}

// FallbackAnalysis is the graceful-degradation result used when the
// detector is unavailable: a single text block covering the page with one
// synthetic line (spec §4.1 "Error conditions").
func FallbackAnalysis(pageW, pageH float64) PageAnalysis {
	return PageAnalysis{
		PageW: pageW,
		PageH: pageH,
		Blocks: []LayoutBlock{
			{
				BBox:       BBox{X: 0, Y: 0, W: pageW, H: pageH},
				ClassID:    ClassText,
				Confidence: 1,
				Order:      0,
				Lines:      []LineInfo{{YCenter: pageH / 2, Height: pageH}},
			},
		},
	}
}

// preprocess builds the detector's three input tensors from a coarse
// pixmap: a nearest-neighbor rescale to TensorSize x TensorSize (no
// ImageNet normalization, just /255), im_shape, and scale_factor.
func preprocess(pm Pixmap) (imShape, imageTensor, scaleFactor Tensor) {
	src := &rgbImage{pix: pm.Pix, w: pm.W, h: pm.H}
	dst := image.NewRGBA(image.Rect(0, 0, TensorSize, TensorSize))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	data := make([]float32, 3*TensorSize*TensorSize)
	plane := TensorSize * TensorSize
	for y := 0; y < TensorSize; y++ {
		for x := 0; x < TensorSize; x++ {
			o := dst.PixOffset(x, y)
			idx := y*TensorSize + x
			data[0*plane+idx] = float32(dst.Pix[o+0]) / 255
			data[1*plane+idx] = float32(dst.Pix[o+1]) / 255
			data[2*plane+idx] = float32(dst.Pix[o+2]) / 255
		}
	}

	imageTensor = Tensor{Shape: []int{1, 3, TensorSize, TensorSize}, Data: data}
	imShape = Tensor{Shape: []int{1, 2}, Data: []float32{TensorSize, TensorSize}}
	scaleFactor = Tensor{
		Shape: []int{1, 2},
		Data:  []float32{float32(TensorSize) / float32(pm.H), float32(TensorSize) / float32(pm.W)},
	}
	return
}

// rgbImage is a zero-copy image.Image view over a row-major RGB byte
// buffer, just enough surface for x/image/draw to scale it.
type rgbImage struct {
	pix  []byte
	w, h int
}

func (r *rgbImage) ColorModel() color.Model { return color.NRGBAModel }
func (r *rgbImage) Bounds() image.Rectangle { return image.Rect(0, 0, r.w, r.h) }
func (r *rgbImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= r.w || y >= r.h {
		return color.NRGBA{}
	}
	o := (y*r.w + x) * 3
	return color.NRGBA{R: r.pix[o], G: r.pix[o+1], B: r.pix[o+2], A: 255}
}

// detection is an internal candidate block still in pixel space, prior to
// reading-order normalization and page-point conversion.
type detection struct {
	px         BBox
	class      ClassID
	confidence float64
	order      float64
	hasOrder   bool
}

func filterDetections(raw Tensor, pxW, pxH int) []detection {
	hasOrderCol := raw.Cols() >= 7
	out := make([]detection, 0, raw.Rows())
	for i := 0; i < raw.Rows(); i++ {
		classID := ClassID(int(raw.At(i, 0)))
		confidence := float64(raw.At(i, 1))
		if confidence < minConfidence {
			continue
		}
		if classID < 0 || int(classID) >= classCount {
			continue
		}
		box := BBox{
			X: float64(raw.At(i, 2)),
			Y: float64(raw.At(i, 3)),
			W: float64(raw.At(i, 4)) - float64(raw.At(i, 2)),
			H: float64(raw.At(i, 5)) - float64(raw.At(i, 3)),
		}
		clamped := box.Clamp(float64(pxW), float64(pxH))
		if clamped.W < minBoxPixels || clamped.H < minBoxPixels {
			continue
		}

		d := detection{px: clamped, class: classID, confidence: confidence}
		if hasOrderCol {
			d.order = float64(raw.At(i, 6))
			d.hasOrder = true
		}
		out = append(out, d)
	}
	return out
}

// nonMaxSuppress sorts by descending confidence (stable: input order wins
// on exact ties) and greedily drops later boxes whose IoU with an
// already-kept box exceeds nmsIoUThresh.
func nonMaxSuppress(in []detection) []detection {
	order := make([]int, len(in))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return in[order[i]].confidence > in[order[j]].confidence
	})

	kept := make([]detection, 0, len(in))
	for _, idx := range order {
		cand := in[idx]
		suppressed := false
		for _, k := range kept {
			if cand.px.IoU(k.px) > nmsIoUThresh {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}

// normalizeReadingOrder sorts by the detector's native order column when
// present, tie-breaking (and entirely falling back, when absent) on
// ascending bbox.Y. Order is not reassigned here; callers assign dense
// indices from the sorted slice position.
func normalizeReadingOrder(in []detection) []detection {
	out := make([]detection, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := 0.0, 0.0
		if out[i].hasOrder {
			oi = out[i].order
		}
		if out[j].hasOrder {
			oj = out[j].order
		}
		if oi != oj {
			return oi < oj
		}
		return out[i].px.Y < out[j].px.Y
	})
	return out
}

// lineRun is a maximal contiguous run of rows whose ink density exceeds the
// block's threshold, in block-local row coordinates.
type lineRun struct {
	start, end int // end exclusive
}

// detectLines computes per-row ink density within a block's pixel-space
// sub-region of the coarse pixmap and returns the resulting runs, in
// block-local row coordinates. An empty result means the caller should
// synthesize a single midline.
func detectLines(pm Pixmap, box BBox) []lineRun {
	x0, y0 := int(box.X), int(box.Y)
	x1, y1 := int(box.Right()), int(box.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return nil
	}
	h := y1 - y0
	density := make([]float64, h)
	for row := 0; row < h; row++ {
		y := y0 + row
		if y < 0 || y >= pm.H {
			continue
		}
		inkPixels := 0
		width := x1 - x0
		if width <= 0 {
			continue
		}
		for x := x0; x < x1; x++ {
			if x < 0 || x >= pm.W {
				continue
			}
			o := (y*pm.W + x) * 3
			lum := 0.299*float64(pm.Pix[o]) + 0.587*float64(pm.Pix[o+1]) + 0.114*float64(pm.Pix[o+2])
			if lum < 160 {
				inkPixels++
			}
		}
		density[row] = float64(inkPixels) / float64(width)
	}

	smoothed := boxSmoothRadius1(density)

	var sum float64
	var nonZero int
	for _, v := range smoothed {
		if v > 0 {
			sum += v
			nonZero++
		}
	}
	mean := 0.0
	if nonZero > 0 {
		mean = sum / float64(nonZero)
	}
	threshold := max(0.15*mean, 0.005)

	var runs []lineRun
	inRun := false
	runStart := 0
	for row := 0; row <= h; row++ {
		above := row < h && smoothed[row] > threshold
		if above && !inRun {
			inRun = true
			runStart = row
		} else if !above && inRun {
			inRun = false
			if row-runStart >= lineRunMinRows {
				runs = append(runs, lineRun{start: runStart, end: row})
			}
		}
	}
	return runs
}

func boxSmoothRadius1(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		lo := max(0, i-1)
		hi := min(len(v)-1, i+1)
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += v[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// convertLines maps line runs from block-local pixel rows into page-point
// LineInfo. Row boundaries are computed in 26.6 fixed point, the same
// representation glyph metrics use in golang.org/x/image/font/sfnt; each
// run's boundaries are derived independently from the block's top edge, so
// nothing is accumulated across runs. The block's top edge is truncated to
// a multiple of 1/64 pixel.
func convertLines(runs []lineRun, px BBox, pxW, pxH int, pageW, pageH float64) []LineInfo {
	scaleY := pageH / float64(pxH)
	blockY := fixed.Int26_6(px.Y * 64)

	if len(runs) == 0 {
		half := fixed.Int26_6((px.H / 2) * 64)
		height := fixed.Int26_6(px.H * 64)
		return []LineInfo{{
			YCenter: fixedToFloat(blockY+half) * scaleY,
			Height:  fixedToFloat(height) * scaleY,
		}}
	}

	lines := make([]LineInfo, len(runs))
	for i, r := range runs {
		y0 := blockY + fixed.Int26_6(r.start)<<6
		y1 := blockY + fixed.Int26_6(r.end)<<6
		center := (y0 + y1) / 2
		lines[i] = LineInfo{
			YCenter: fixedToFloat(center) * scaleY,
			Height:  fixedToFloat(y1-y0) * scaleY,
		}
	}
	return lines
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func pixelBoxToPoints(px BBox, pxW, pxH int, pageW, pageH float64) BBox {
	scaleX := pageW / float64(pxW)
	scaleY := pageH / float64(pxH)
	return BBox{
		X: px.X * scaleX,
		Y: px.Y * scaleY,
		W: px.W * scaleX,
		H: px.H * scaleY,
	}
}
