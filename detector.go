package railreader2

import "context"

// Tensor is a minimal row-major float tensor, enough to carry the
// detector's inputs and outputs without pulling in a full tensor library —
// the detector itself is an external collaborator (spec §1); this package
// only needs to read its output columns.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Rows reports the tensor's first dimension, or 0 if it isn't rank 2.
func (t Tensor) Rows() int {
	if len(t.Shape) != 2 {
		return 0
	}
	return t.Shape[0]
}

// Cols reports the tensor's second dimension, or 0 if it isn't rank 2.
func (t Tensor) Cols() int {
	if len(t.Shape) != 2 {
		return 0
	}
	return t.Shape[1]
}

// At returns element (row, col) of a rank-2 tensor.
func (t Tensor) At(row, col int) float32 {
	return t.Data[row*t.Cols()+col]
}

// Detector is the external layout-detection model runtime this package
// consumes (spec §6). im_shape and scale_factor are both length-2 [1,2]
// tensors; image is the [1,3,800,800] preprocessed tensor built in
// LayoutAnalyzer.Analyze. The core only consumes a 2-D output with at least
// 6 columns; anything else is treated as ErrNoDetectionTensor.
type Detector interface {
	Run(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error)

func (f DetectorFunc) Run(ctx context.Context, imShape, image, scaleFactor Tensor) (Tensor, error) {
	return f(ctx, imShape, image, scaleFactor)
}
