package railreader2

import "context"

// RasterImage is a caller-owned raster bitmap produced by the rasterizer for
// a page at a given DPI. Pix is row-major, either BGRA or RGBA per Format.
type RasterImage struct {
	Pix    []byte
	W, H   int
	Stride int
	Format PixelFormat
	DPI    float64
}

// PixelFormat distinguishes the two buffer layouts the rasterizer may hand
// back (spec §6).
type PixelFormat int

const (
	FormatRGBA PixelFormat = iota
	FormatBGRA
)

// Pixmap is the coarse, letterboxed RGB buffer used for layout detection
// (spec §4.1). Pix is row-major R,G,B bytes, no alpha.
type Pixmap struct {
	Pix  []byte
	W, H int
}

// Rasterizer is the external PDF rasterizer this package consumes. It is not
// safe for concurrent calls against the same document; the core only calls
// it from the UI context or from a single dedicated background task it owns
// (spec §5).
type Rasterizer interface {
	PageCount(ctx context.Context) (int, error)
	PageSize(ctx context.Context, page int) (w, h float64, err error)
	RenderPage(ctx context.Context, page int, dpi float64) (RasterImage, error)
	RenderPixmap(ctx context.Context, page int, targetSize int) (Pixmap, error)
}
