package railreader2

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func whitePixmap(w, h int) Pixmap {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = 0xff
	}
	return Pixmap{Pix: pix, W: w, H: h}
}

func TestAnalyzeNilDetectorReturnsFallback(t *testing.T) {
	a := NewLayoutAnalyzer(nil, nil)
	pa, err := a.Analyze(context.Background(), whitePixmap(100, 100), 612, 792)
	require.NoError(t, err)
	require.Len(t, pa.Blocks, 1)
	require.Equal(t, ClassText, pa.Blocks[0].ClassID)
}

func TestAnalyzeDetectorErrorPropagates(t *testing.T) {
	wantErr := errors.New("model crashed")
	det := DetectorFunc(func(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error) {
		return Tensor{}, wantErr
	})
	a := NewLayoutAnalyzer(det, nil)
	_, err := a.Analyze(context.Background(), whitePixmap(100, 100), 612, 792)
	require.ErrorIs(t, err, wantErr)
}

func TestAnalyzeEmptyTensorYieldsNoBlocks(t *testing.T) {
	det := DetectorFunc(func(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error) {
		return Tensor{Shape: []int{0, 0}}, nil
	})
	a := NewLayoutAnalyzer(det, nil)
	pa, err := a.Analyze(context.Background(), whitePixmap(100, 100), 612, 792)
	require.ErrorIs(t, err, ErrNoDetectionTensor)
	require.Empty(t, pa.Blocks)
}

// detectorRows builds a synthetic 7-column detection tensor: class_id,
// confidence, x0, y0, x1, y1, order.
func detectorRows(rows [][7]float32) Tensor {
	data := make([]float32, 0, len(rows)*7)
	for _, r := range rows {
		data = append(data, r[:]...)
	}
	return Tensor{Shape: []int{len(rows), 7}, Data: data}
}

func TestAnalyzeFiltersLowConfidence(t *testing.T) {
	det := DetectorFunc(func(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error) {
		return detectorRows([][7]float32{
			{float32(ClassText), 0.1, 10, 10, 100, 50, 0},
			{float32(ClassText), 0.9, 10, 60, 100, 100, 1},
		}), nil
	})
	a := NewLayoutAnalyzer(det, nil)
	pa, err := a.Analyze(context.Background(), whitePixmap(800, 800), 612, 792)
	require.NoError(t, err)
	require.Len(t, pa.Blocks, 1)
	require.InDelta(t, float64(float32(0.9)), pa.Blocks[0].Confidence, 1e-9)
}

func TestAnalyzeSuppressesOverlappingBoxes(t *testing.T) {
	det := DetectorFunc(func(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error) {
		return detectorRows([][7]float32{
			{float32(ClassText), 0.95, 10, 10, 110, 110, 0},
			{float32(ClassText), 0.80, 12, 12, 112, 112, 1}, // heavily overlaps row 0
			{float32(ClassText), 0.70, 400, 400, 500, 500, 2},
		}), nil
	})
	a := NewLayoutAnalyzer(det, nil)
	pa, err := a.Analyze(context.Background(), whitePixmap(800, 800), 612, 792)
	require.NoError(t, err)
	require.Len(t, pa.Blocks, 2)
	require.InDelta(t, float64(float32(0.95)), pa.Blocks[0].Confidence, 1e-9)
}

func TestAnalyzeBlockWithoutInkYieldsOneSyntheticLine(t *testing.T) {
	det := DetectorFunc(func(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error) {
		return detectorRows([][7]float32{
			{float32(ClassText), 0.9, 10, 10, 200, 200, 0},
		}), nil
	})
	a := NewLayoutAnalyzer(det, nil)
	pa, err := a.Analyze(context.Background(), whitePixmap(800, 800), 612, 792)
	require.NoError(t, err)
	require.Len(t, pa.Blocks, 1)
	require.Len(t, pa.Blocks[0].Lines, 1)
}

func TestNonMaxSuppressStableOnTies(t *testing.T) {
	in := []detection{
		{px: BBox{X: 0, Y: 0, W: 10, H: 10}, confidence: 0.5},
		{px: BBox{X: 500, Y: 500, W: 10, H: 10}, confidence: 0.5},
	}
	out := nonMaxSuppress(in)
	require.Len(t, out, 2)
	require.Equal(t, in[0].px, out[0].px)
	require.Equal(t, in[1].px, out[1].px)
}
