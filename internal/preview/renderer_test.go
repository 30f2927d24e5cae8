package preview

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/pkg/ffmpeg"
)

type fakeSource struct {
	mu       sync.Mutex
	duration float64
	width    int
	height   int
	offsets  []float64
	probeErr error
	frameErr error
}

func (f *fakeSource) GetVideoInfo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &ffmpeg.VideoInfo{Duration: f.duration, Width: f.width, Height: f.height}, nil
}

func (f *fakeSource) ExtractFrame(ctx context.Context, path string, at float64) (image.Image, error) {
	if f.frameErr != nil {
		return nil, f.frameErr
	}
	f.mu.Lock()
	f.offsets = append(f.offsets, at)
	f.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(at), B: 50, A: 255})
		}
	}
	return img, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRenderer_Render(t *testing.T) {
	src := &fakeSource{duration: 90, width: 100, height: 60}
	r := NewRenderer(src, Options{Columns: 3, Rows: 3, ScalePercent: 30}, testLogger())
	fixed := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	dir := filepath.Join(t.TempDir(), "previews")
	sheet, err := r.Render(context.Background(), "/videos/clip.mp4", dir)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if sheet.Path != filepath.Join(dir, "03052024-140709.jpg") {
		t.Errorf("Path = %q", sheet.Path)
	}
	if len(src.offsets) != 9 {
		t.Errorf("extracted %d frames, want 9", len(src.offsets))
	}

	f, err := os.Open(sheet.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode sheet: %v", err)
	}
	// 30% of 100x60 is 30x18 per cell, 3x3 grid.
	if b := img.Bounds(); b.Dx() != 90 || b.Dy() != 54 {
		t.Errorf("sheet size = %dx%d, want 90x54", b.Dx(), b.Dy())
	}
}

func TestRenderer_Render_NameCollision(t *testing.T) {
	src := &fakeSource{duration: 10, width: 10, height: 10}
	r := NewRenderer(src, Options{Columns: 1, Rows: 1, ScalePercent: 100}, testLogger())
	fixed := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	dir := t.TempDir()
	first, err := r.Render(context.Background(), "a.mp4", dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Render(context.Background(), "b.mp4", dir)
	if err != nil {
		t.Fatal(err)
	}
	if first.Path == second.Path {
		t.Errorf("second render overwrote %q", first.Path)
	}
}

func TestRenderer_Render_Failures(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{"probe", &fakeSource{probeErr: errors.New("ffprobe: exit 1")}},
		{"frame", &fakeSource{duration: 10, width: 10, height: 10, frameErr: errors.New("no frame")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRenderer(tt.src, Options{}, testLogger())
			_, err := r.Render(context.Background(), "x.mp4", t.TempDir())
			if !errors.Is(err, domain.ErrRendererFailure) {
				t.Errorf("error = %v, want ErrRendererFailure", err)
			}
		})
	}
}

func TestCompose_CentersSmallerFrames(t *testing.T) {
	big := image.NewRGBA(image.Rect(0, 0, 4, 4))
	small := image.NewRGBA(image.Rect(0, 0, 2, 2))
	white := color.RGBA{255, 255, 255, 255}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			small.Set(x, y, white)
		}
	}

	sheet := compose([]image.Image{big, small}, 2, 1)
	if b := sheet.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("sheet = %v, want 8x4", b)
	}
	if got := sheet.RGBAAt(5, 1); got != white {
		t.Errorf("pixel (5,1) = %v, want centered white frame", got)
	}
	if got := sheet.RGBAAt(4, 0); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("pixel (4,0) = %v, want black padding", got)
	}
}
