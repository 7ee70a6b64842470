// Command railreader drives one tab's frame scheduler against a blank stub
// page so the coordination layer can be exercised without a real PDF
// rasterizer or detector plugged in, mirroring render_tool's role in the
// teacher repo as a thin CLI harness around the library.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	railreader2 "github.com/sjvrensburg/railreader2"
)

var (
	pdfPath    = kingpin.Arg("pdf", "path to open (stubbed: content is not actually read)").String()
	configPath = kingpin.Flag("config", "path to a rail.toml config file").Default("rail.toml").Short('c').String()
	pages      = kingpin.Flag("pages", "stub page count").Default("10").Short('n').Int()
	ticks      = kingpin.Flag("ticks", "number of scheduler ticks to run").Default("5").Short('t').Int()
)

// blankRasterizer is a stand-in Rasterizer that reports fixed Letter-sized
// pages and returns solid-white buffers. It exists only so this command can
// exercise TabState and FrameScheduler without a real PDF engine, which is
// explicitly out of scope for this package.
type blankRasterizer struct {
	pageCount int
}

func (b *blankRasterizer) PageCount(ctx context.Context) (int, error) { return b.pageCount, nil }

func (b *blankRasterizer) PageSize(ctx context.Context, page int) (float64, float64, error) {
	return 612, 792, nil
}

func (b *blankRasterizer) RenderPage(ctx context.Context, page int, dpi float64) (railreader2.RasterImage, error) {
	w := int(612 * dpi / 72)
	h := int(792 * dpi / 72)
	pix := make([]byte, w*h*4)
	for i := range pix {
		pix[i] = 0xff
	}
	return railreader2.RasterImage{Pix: pix, W: w, H: h, Stride: w * 4, Format: railreader2.FormatRGBA, DPI: dpi}, nil
}

func (b *blankRasterizer) RenderPixmap(ctx context.Context, page int, targetSize int) (railreader2.Pixmap, error) {
	pix := make([]byte, targetSize*targetSize*3)
	for i := range pix {
		pix[i] = 0xff
	}
	return railreader2.Pixmap{Pix: pix, W: targetSize, H: targetSize}, nil
}

func main() {
	kingpin.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := railreader2.LoadConfig(*configPath)
	if err != nil {
		logger.Error("config load failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	rasterizer := &blankRasterizer{pageCount: *pages}
	analyzer := railreader2.NewLayoutAnalyzer(nil, logger)
	worker := railreader2.NewAnalysisWorker(analyzer, nil)
	go worker.Run()
	defer worker.Stop()

	rail := railreader2.NewRailNavigator(cfg, logger)
	tab := railreader2.NewTabState(*pdfPath, *pages, rasterizer, worker, cfg.NavigableClasses(), rail, logger)

	viewport := railreader2.Viewport{W: 1024, H: 768}
	tab.Camera.FitPage(viewport, 612, 792)

	ctx := context.Background()
	if err := tab.OpenPage(ctx, 0); err != nil {
		logger.Error("open page failed", "error", err)
		os.Exit(1)
	}

	scheduler := railreader2.NewFrameScheduler(tab, worker, cfg, logger, func() {
		fmt.Println("invalidate")
	})

	now := time.Now()
	for i := 0; i < *ticks; i++ {
		now = now.Add(16 * time.Millisecond)
		scheduler.Tick(now, viewport)
	}

	fmt.Printf("page %d/%d, zoom=%.2f, rail active=%v, blocks=%d\n",
		tab.CurPage+1, tab.PageCount, tab.Camera.Zoom, rail.State().Active, len(tab.AnalysisCache[tab.CurPage].Blocks))

	if err := tab.Close(); err != nil {
		if railreader2.IsRasterizationFailed(err) {
			logger.Warn("closed with a pending rasterization failure", "error", err)
			return
		}
		logger.Error("close failed", "error", err)
		os.Exit(1)
	}
}
