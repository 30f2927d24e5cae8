// Package preview renders contact sheets: a grid of frames sampled evenly
// across a video, saved as a single JPEG.
package preview

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/pkg/ffmpeg"
)

// FileLayout is the timestamp layout used to name contact sheets.
const FileLayout = "01022006-150405"

// FrameSource probes videos and decodes single frames.
type FrameSource interface {
	GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error)
	ExtractFrame(ctx context.Context, videoPath string, at float64) (image.Image, error)
}

// Options controls the grid layout.
type Options struct {
	Columns      int
	Rows         int
	ScalePercent int
	Quality      int
	// Parallel bounds concurrent frame extractions.
	Parallel int
}

// Renderer builds contact sheets from a FrameSource.
type Renderer struct {
	source FrameSource
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRenderer creates a contact-sheet renderer.
func NewRenderer(source FrameSource, opts Options, logger *slog.Logger) *Renderer {
	if opts.Columns <= 0 {
		opts.Columns = 3
	}
	if opts.Rows <= 0 {
		opts.Rows = 3
	}
	if opts.ScalePercent <= 0 || opts.ScalePercent > 100 {
		opts.ScalePercent = 30
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 3
	}
	return &Renderer{
		source: source,
		opts:   opts,
		logger: logger.With("component", "preview"),
		now:    time.Now,
	}
}

// Render samples Columns*Rows frames from videoPath and writes the grid into
// outputDir. Any failure is reported as ErrRendererFailure.
func (r *Renderer) Render(ctx context.Context, videoPath, outputDir string) (domain.ContactSheet, error) {
	start := r.now()

	info, err := r.source.GetVideoInfo(ctx, videoPath)
	if err != nil {
		return domain.ContactSheet{}, fmt.Errorf("%w: probe: %v", domain.ErrRendererFailure, err)
	}

	count := r.opts.Columns * r.opts.Rows
	offsets := ffmpeg.FrameOffsets(info.Duration, count)
	frames := make([]image.Image, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for i, at := range offsets {
		g.Go(func() error {
			img, err := r.source.ExtractFrame(gctx, videoPath, at)
			if err != nil {
				return err
			}
			frames[i] = scale(img, r.opts.ScalePercent)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return domain.ContactSheet{}, ctx.Err()
		}
		return domain.ContactSheet{}, fmt.Errorf("%w: %v", domain.ErrRendererFailure, err)
	}

	sheet := compose(frames, r.opts.Columns, r.opts.Rows)

	path, err := r.save(sheet, outputDir, start)
	if err != nil {
		return domain.ContactSheet{}, fmt.Errorf("%w: %v", domain.ErrRendererFailure, err)
	}

	elapsed := r.now().Sub(start).Seconds()
	r.logger.Info("contact sheet rendered",
		"video", filepath.Base(videoPath),
		"path", path,
		"frames", count,
		"elapsed_seconds", elapsed,
	)
	return domain.ContactSheet{Path: path, Elapsed: elapsed}, nil
}

func (r *Renderer) save(img image.Image, outputDir string, at time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create preview dir: %w", err)
	}

	name := at.Format(FileLayout)
	path := filepath.Join(outputDir, name+".jpg")
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(outputDir, fmt.Sprintf("%s-%d.jpg", name, i))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: r.opts.Quality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close preview: %w", err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// scale resizes img to percent of its size, keeping at least one pixel.
func scale(img image.Image, percent int) image.Image {
	b := img.Bounds()
	w := max(b.Dx()*percent/100, 1)
	h := max(b.Dy()*percent/100, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// compose lays frames out row by row. Every cell takes the size of the
// largest frame; smaller frames are centered on black.
func compose(frames []image.Image, cols, rows int) *image.RGBA {
	var cellW, cellH int
	for _, f := range frames {
		cellW = max(cellW, f.Bounds().Dx())
		cellH = max(cellH, f.Bounds().Dy())
	}

	sheet := image.NewRGBA(image.Rect(0, 0, cellW*cols, cellH*rows))
	draw.Draw(sheet, sheet.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	for i, f := range frames {
		col, row := i%cols, i/cols
		b := f.Bounds()
		x := col*cellW + (cellW-b.Dx())/2
		y := row*cellH + (cellH-b.Dy())/2
		draw.Draw(sheet, image.Rect(x, y, x+b.Dx(), y+b.Dy()), f, b.Min, draw.Src)
	}
	return sheet
}
