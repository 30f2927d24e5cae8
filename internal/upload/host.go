package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// Status codes reported inside the hosting API's JSON envelope.
const (
	hostStatusOK               = 200
	hostStatusPermissionDenied = 403
	hostStatusNotFound         = 404
)

// HostBackend publishes files to a video hosting API that returns a playable
// page and generates a splash image asynchronously.
type HostBackend struct {
	baseURL string
	login   string
	key     string
	// apiClient is used for the small JSON calls
	apiClient *http.Client
	// uploadClient streams the file body without overall timeout
	uploadClient *http.Client
	logger       *slog.Logger
}

// NewHostBackend creates a hosting API backend.
func NewHostBackend(cfg config.HostConfig, logger *slog.Logger) *HostBackend {
	return &HostBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		login:   cfg.Login,
		key:     cfg.Key,
		apiClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		uploadClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "host_backend"),
	}
}

// Name identifies the backend.
func (b *HostBackend) Name() string { return "host" }

// envelope is the JSON wrapper every API response uses.
type envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

type uploadLink struct {
	URL        string `json:"url"`
	ValidUntil string `json:"valid_until"`
}

type uploadedFile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Size        flexSize `json:"size"`
	ContentType string   `json:"content_type"`
	URL         string   `json:"url"`
}

// flexSize accepts a size encoded as a JSON number or a numeric string.
type flexSize int64

func (s *flexSize) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", raw, err)
	}
	*s = flexSize(v)
	return nil
}

// Upload asks for an upload URL and streams the file to it as multipart form data.
func (b *HostBackend) Upload(ctx context.Context, path string) (domain.UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("stat upload: %w", err)
	}
	contentType := detectContentType(path)

	var link uploadLink
	if err := b.call(ctx, "/file/ul", nil, &link); err != nil {
		return domain.UploadResult{}, fmt.Errorf("request upload link: %w", err)
	}
	if link.URL == "" {
		return domain.UploadResult{}, fmt.Errorf("%w: empty upload link", domain.ErrUploadFailed)
	}

	b.logger.Info("uploading file",
		"file", filepath.Base(path),
		"size", humanize.Bytes(uint64(info.Size())),
		"content_type", contentType,
	)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, filepath.Base(path), contentType, file))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link.URL, pr)
	if err != nil {
		pr.Close()
		return domain.UploadResult{}, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Prefer", "respond-async")

	resp, err := b.uploadClient.Do(req)
	if err != nil {
		pr.Close()
		return domain.UploadResult{}, fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	var uploaded uploadedFile
	if err := decodeEnvelope(resp, &uploaded); err != nil {
		return domain.UploadResult{}, err
	}

	result := domain.UploadResult{
		ID:          uploaded.ID,
		Name:        uploaded.Name,
		Size:        int64(uploaded.Size),
		ContentType: uploaded.ContentType,
		URL:         uploaded.URL,
	}
	if result.Name == "" {
		result.Name = filepath.Base(path)
	}
	if result.Size == 0 {
		result.Size = info.Size()
	}
	if result.ContentType == "" {
		result.ContentType = contentType
	}
	return result, nil
}

func writeMultipart(mw *multipart.Writer, name, contentType string, r io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// ThumbnailWhenReady waits delay, then asks for the splash image of id.
func (b *HostBackend) ThumbnailWhenReady(ctx context.Context, id string, delay time.Duration) (string, error) {
	if err := wait(ctx, delay); err != nil {
		return "", err
	}

	var splash string
	if err := b.call(ctx, "/file/getsplash", url.Values{"file": {id}}, &splash); err != nil {
		return "", err
	}
	if splash == "" {
		return "", domain.ErrRemoteNotReady
	}
	return splash, nil
}

// call performs an authenticated GET against the API and decodes the result.
func (b *HostBackend) call(ctx context.Context, endpoint string, params url.Values, out any) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("login", b.login)
	q.Set("key", b.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return statusToError(resp.StatusCode, strings.TrimSpace(string(bytes.TrimSpace(body))))
		}
		return fmt.Errorf("%w: decode response: %v", domain.ErrUploadFailed, err)
	}

	if env.Status == 0 {
		env.Status = resp.StatusCode
	}
	if env.Status != hostStatusOK {
		return statusToError(env.Status, env.Msg)
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", domain.ErrUploadFailed, err)
	}
	return nil
}

func statusToError(status int, msg string) error {
	switch status {
	case hostStatusPermissionDenied, http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, msg)
	case hostStatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrRemoteNotReady, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrUploadFailed, status, msg)
	}
}
