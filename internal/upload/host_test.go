package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTempVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte("fake video payload"), 0644))
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newHostServer(t *testing.T, splash func(n int32) map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var splashCalls atomic.Int32
	var srv *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/file/ul", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("login") != "user" || r.URL.Query().Get("key") != "secret" {
			writeJSON(w, map[string]any{"status": 403, "msg": "bad credentials"})
			return
		}
		writeJSON(w, map[string]any{
			"status": 200,
			"msg":    "OK",
			"result": map[string]any{"url": srv.URL + "/upload-target", "valid_until": "2030-01-01 00:00:00"},
		})
	})
	mux.HandleFunc("/upload-target", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		f, hdr, err := r.FormFile("files")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		writeJSON(w, map[string]any{
			"status": 200,
			"msg":    "OK",
			"result": map[string]any{
				"id":           "abc123",
				"name":         hdr.Filename,
				"size":         "18",
				"content_type": hdr.Header.Get("Content-Type"),
				"url":          "https://host.example/f/abc123/" + hdr.Filename,
				"_len":         len(data),
			},
		})
	})
	mux.HandleFunc("/file/getsplash", func(w http.ResponseWriter, r *http.Request) {
		n := splashCalls.Add(1)
		if r.URL.Query().Get("file") != "abc123" {
			writeJSON(w, map[string]any{"status": 404, "msg": "unknown file"})
			return
		}
		writeJSON(w, splash(n))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &splashCalls
}

func hostConfig(base string) config.HostConfig {
	return config.HostConfig{BaseURL: base, Login: "user", Key: "secret", Timeout: 5 * time.Second}
}

func TestHostBackend_Upload(t *testing.T) {
	srv, _ := newHostServer(t, nil)
	b := NewHostBackend(hostConfig(srv.URL), testLogger())

	res, err := b.Upload(context.Background(), writeTempVideo(t))
	require.NoError(t, err)

	assert.Equal(t, "abc123", res.ID)
	assert.Equal(t, "clip.mp4", res.Name)
	assert.Equal(t, int64(18), res.Size)
	assert.Equal(t, "https://host.example/f/abc123/clip.mp4", res.URL)
	assert.NotEmpty(t, res.ContentType)
}

func TestHostBackend_Upload_BadCredentials(t *testing.T) {
	srv, _ := newHostServer(t, nil)
	cfg := hostConfig(srv.URL)
	cfg.Key = "wrong"
	b := NewHostBackend(cfg, testLogger())

	_, err := b.Upload(context.Background(), writeTempVideo(t))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestHostBackend_Upload_MissingFile(t *testing.T) {
	b := NewHostBackend(hostConfig("http://127.0.0.1:1"), testLogger())
	_, err := b.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestHostBackend_ThumbnailWhenReady(t *testing.T) {
	srv, calls := newHostServer(t, func(n int32) map[string]any {
		if n < 2 {
			return map[string]any{"status": 404, "msg": "splash not ready"}
		}
		return map[string]any{"status": 200, "msg": "OK", "result": "https://thumb.example/abc123.jpg"}
	})
	b := NewHostBackend(hostConfig(srv.URL), testLogger())

	_, err := b.ThumbnailWhenReady(context.Background(), "abc123", 0)
	assert.ErrorIs(t, err, domain.ErrRemoteNotReady)

	got, err := b.ThumbnailWhenReady(context.Background(), "abc123", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "https://thumb.example/abc123.jpg", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHostBackend_ThumbnailWhenReady_PermissionDenied(t *testing.T) {
	srv, _ := newHostServer(t, func(int32) map[string]any {
		return map[string]any{"status": 403, "msg": "not your file"}
	})
	b := NewHostBackend(hostConfig(srv.URL), testLogger())

	_, err := b.ThumbnailWhenReady(context.Background(), "abc123", 0)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestHostBackend_ThumbnailWhenReady_Cancelled(t *testing.T) {
	srv, calls := newHostServer(t, nil)
	b := NewHostBackend(hostConfig(srv.URL), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.ThumbnailWhenReady(ctx, "abc123", time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), calls.Load())
}

func TestStatusToError(t *testing.T) {
	assert.ErrorIs(t, statusToError(403, "x"), domain.ErrPermissionDenied)
	assert.ErrorIs(t, statusToError(401, "x"), domain.ErrPermissionDenied)
	assert.ErrorIs(t, statusToError(404, "x"), domain.ErrRemoteNotReady)
	assert.ErrorIs(t, statusToError(500, "x"), domain.ErrUploadFailed)
}

func TestFlexSize(t *testing.T) {
	var v struct {
		A flexSize `json:"a"`
		B flexSize `json:"b"`
		C flexSize `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 12, "b": "34", "c": null}`), &v))
	assert.Equal(t, flexSize(12), v.A)
	assert.Equal(t, flexSize(34), v.B)
	assert.Equal(t, flexSize(0), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "big"}`), &v))
}

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Upload.Backend = config.BackendNone
	b, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, b)

	cfg.Upload.Backend = config.BackendHost
	cfg.Upload.Host = hostConfig("http://127.0.0.1:1")
	b, err = New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "host", b.Name())

	cfg.Upload.Backend = "ftp"
	_, err = New(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}
