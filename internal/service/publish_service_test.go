package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/repository"
	"github.com/lucadibello/RimeSegateBot/internal/session"
	"github.com/lucadibello/RimeSegateBot/internal/thumbnail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockBackend implements upload.Backend for testing.
type mockBackend struct {
	mu          sync.Mutex
	uploadErr   error
	thumbErrs   []error
	thumbURL    string
	uploads     []string
	thumbCalls  int
	sawFileSize int64
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Upload(ctx context.Context, path string) (domain.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, path)
	if m.uploadErr != nil {
		return domain.UploadResult{}, m.uploadErr
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.UploadResult{}, err
	}
	m.sawFileSize = info.Size()
	return domain.UploadResult{
		ID:          "remote-1",
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: "video/mp4",
		URL:         "https://host.example/f/remote-1",
	}, nil
}

func (m *mockBackend) ThumbnailWhenReady(ctx context.Context, id string, delay time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thumbCalls++
	if len(m.thumbErrs) > 0 {
		err := m.thumbErrs[0]
		m.thumbErrs = m.thumbErrs[1:]
		return "", err
	}
	return m.thumbURL, nil
}

type mockRenderer struct {
	err   error
	calls int
}

func (m *mockRenderer) Render(ctx context.Context, videoPath, outputDir string) (domain.ContactSheet, error) {
	m.calls++
	if m.err != nil {
		return domain.ContactSheet{}, m.err
	}
	if _, err := os.Stat(videoPath); err != nil {
		return domain.ContactSheet{}, err
	}
	return domain.ContactSheet{Path: filepath.Join(outputDir, "sheet.jpg"), Elapsed: 0.5}, nil
}

type publishFixture struct {
	svc      *PublishService
	registry *repository.SessionRegistry
	history  *repository.InMemoryHistoryRepository
	sess     *session.Recorder
	job      *domain.Job
	res      domain.FetchResult
}

func newPublishFixture(t *testing.T, backend *mockBackend, renderer thumbnail.Renderer, cfg PublishConfig) *publishFixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	resolver := thumbnail.NewResolver(renderer, thumbnail.Options{PreviewDir: filepath.Join(dir, "previews")}, testLogger())
	reg := repository.NewSessionRegistry()
	hist := repository.NewInMemoryHistoryRepository()

	f := &publishFixture{
		registry: reg,
		history:  hist,
		sess:     session.NewRecorder(21),
		job:      domain.NewJob("job-1", 21, domain.Request{SourceURL: "https://example.com/clip.mp4", Filename: "clip.mp4"}, "clip", nil),
		res:      domain.FetchResult{Path: path, Size: 11},
	}
	if backend != nil {
		f.svc = NewPublishService(backend, resolver, reg, hist, cfg, testLogger())
	} else {
		f.svc = NewPublishService(nil, resolver, reg, hist, cfg, testLogger())
	}
	return f
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPublish_RemoteThumbnail(t *testing.T) {
	backend := &mockBackend{
		thumbErrs: []error{domain.ErrRemoteNotReady, domain.ErrRemoteNotReady},
		thumbURL:  "https://thumb.example/remote-1.jpg",
	}
	f := newPublishFixture(t, backend, nil, PublishConfig{RemoteThumbnail: true})

	if err := f.svc.Publish(context.Background(), f.job, f.res, f.sess); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if backend.thumbCalls != 3 {
		t.Errorf("thumbnail calls = %d, want 3", backend.thumbCalls)
	}
	art, ok := f.registry.Thumbnail(21)
	if !ok || art.Kind != domain.ThumbnailRemote || art.URL != "https://thumb.example/remote-1.jpg" {
		t.Errorf("stored artifact = %+v, %v", art, ok)
	}
	if fileExists(f.res.Path) {
		t.Error("uploaded file should be deleted")
	}

	success := strings.Join(f.sess.Texts(domain.SeveritySuccess), "\n")
	if !strings.Contains(success, "URL: https://host.example/f/remote-1") {
		t.Errorf("upload notification missing, got %q", success)
	}

	entries, _ := f.history.ListByOwner(context.Background(), 21, 10)
	if len(entries) != 1 || entries[0].RemoteID != "remote-1" || entries[0].Thumbnail != art.URL {
		t.Errorf("history = %+v", entries)
	}
	status, _ := f.job.Status()
	if status != domain.JobStatusThumbnail {
		t.Errorf("status = %s, want thumbnail (completion is set by the worker)", status)
	}
}

func TestPublish_LocalThumbnail(t *testing.T) {
	renderer := &mockRenderer{}
	f := newPublishFixture(t, &mockBackend{}, renderer, PublishConfig{})

	if err := f.svc.Publish(context.Background(), f.job, f.res, f.sess); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if renderer.calls != 1 {
		t.Errorf("renderer calls = %d, want 1", renderer.calls)
	}
	art, ok := f.registry.Thumbnail(21)
	if !ok || art.Kind != domain.ThumbnailLocal || filepath.Base(art.Path) != "sheet.jpg" {
		t.Errorf("stored artifact = %+v, %v", art, ok)
	}
	if fileExists(f.res.Path) {
		t.Error("uploaded file should be deleted")
	}
}

func TestPublish_RendererFailure_StillCleansUp(t *testing.T) {
	f := newPublishFixture(t, &mockBackend{}, &mockRenderer{err: errors.New("decoder crashed")}, PublishConfig{})

	if err := f.svc.Publish(context.Background(), f.job, f.res, f.sess); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if _, ok := f.registry.Thumbnail(21); ok {
		t.Error("no artifact should be stored after a renderer failure")
	}
	if errs := f.sess.Texts(domain.SeverityError); len(errs) != 1 {
		t.Errorf("error messages = %v, want exactly one", errs)
	}
	if fileExists(f.res.Path) {
		t.Error("file should be deleted once the upload succeeded")
	}
}

func TestPublish_UploadFailure_KeepsFile(t *testing.T) {
	backend := &mockBackend{uploadErr: domain.ErrPermissionDenied}
	f := newPublishFixture(t, backend, &mockRenderer{}, PublishConfig{})

	err := f.svc.Publish(context.Background(), f.job, f.res, f.sess)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	if !fileExists(f.res.Path) {
		t.Error("file must be kept when the upload fails")
	}
	if _, ok := f.registry.Thumbnail(21); ok {
		t.Error("no artifact should be stored")
	}
	if errs := f.sess.Texts(domain.SeverityError); len(errs) != 0 {
		t.Errorf("the service must leave reporting to the worker, got %v", errs)
	}
}

func TestPublish_ThumbnailPermissionDenied_Aborts(t *testing.T) {
	backend := &mockBackend{thumbErrs: []error{domain.ErrRemoteNotReady, domain.ErrPermissionDenied}}
	f := newPublishFixture(t, backend, nil, PublishConfig{RemoteThumbnail: true})

	err := f.svc.Publish(context.Background(), f.job, f.res, f.sess)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	if backend.thumbCalls != 2 {
		t.Errorf("thumbnail calls = %d, want 2", backend.thumbCalls)
	}
	if _, ok := f.registry.Thumbnail(21); ok {
		t.Error("no artifact should be stored")
	}
}

func TestPublish_ConvertWarning(t *testing.T) {
	f := newPublishFixture(t, &mockBackend{}, &mockRenderer{}, PublishConfig{UseExtractor: true, ConvertToMP4: true})

	if err := f.svc.Publish(context.Background(), f.job, f.res, f.sess); err != nil {
		t.Fatal(err)
	}
	warnings := f.sess.Texts(domain.SeverityWarning)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "mp4") {
		t.Errorf("warnings = %v, want the conversion warning", warnings)
	}
}

func TestPublish_NoBackend_SendsVideo(t *testing.T) {
	renderer := &mockRenderer{}
	f := newPublishFixture(t, nil, renderer, PublishConfig{})

	if err := f.svc.Publish(context.Background(), f.job, f.res, f.sess); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	var videos []string
	for _, m := range f.sess.Messages() {
		if m.Kind == "video" {
			videos = append(videos, m.Ref)
		}
	}
	if len(videos) != 1 || videos[0] != f.res.Path {
		t.Errorf("videos sent = %v, want [%s]", videos, f.res.Path)
	}
	if !fileExists(f.res.Path) {
		t.Error("file must be kept when there is no upload backend")
	}
	if art, ok := f.registry.Thumbnail(21); !ok || art.Kind != domain.ThumbnailLocal {
		t.Errorf("artifact = %+v, %v", art, ok)
	}
}

func TestPublish_NoBackend_SendFailure(t *testing.T) {
	f := newPublishFixture(t, nil, &mockRenderer{}, PublishConfig{})
	f.sess.Err = errors.New("request entity too large")

	if err := f.svc.Publish(context.Background(), f.job, f.res, f.sess); err == nil {
		t.Fatal("expected error when the video cannot be sent")
	}
}

func TestFormatUpload(t *testing.T) {
	got := formatUpload(domain.UploadResult{Name: "a.mp4", Size: 2048, ContentType: "video/mp4", URL: "https://x/a"})
	for _, want := range []string{"Name: a.mp4", "Size: 2.0 kB", "Type: video/mp4", "URL: https://x/a"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatUpload() = %q, missing %q", got, want)
		}
	}
}
