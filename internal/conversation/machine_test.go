package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/repository"
	"github.com/lucadibello/RimeSegateBot/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeValidator struct {
	unreachable map[string]bool
}

func (v *fakeValidator) CheckFormat(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func (v *fakeValidator) CheckReachable(ctx context.Context, raw string) bool {
	return !v.unreachable[raw]
}

type fakeJobs struct {
	mu        sync.Mutex
	submitted []domain.Request
	running   map[domain.UserID]*domain.Job
	submitErr error
	cancelled []domain.UserID
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{running: make(map[domain.UserID]*domain.Job)}
}

func (f *fakeJobs) Submit(req domain.Request, sess session.Session) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return domain.NewJob(domain.JobID(fmt.Sprintf("job-%d", len(f.submitted))), sess.UserID(), req, "", nil), nil
}

func (f *fakeJobs) Cancel(ctx context.Context, owner domain.UserID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[owner]; !ok {
		return nil, domain.ErrNotRunning
	}
	delete(f.running, owner)
	f.cancelled = append(f.cancelled, owner)
	return []string{"/save/a.mp4.part"}, nil
}

func (f *fakeJobs) Job(owner domain.UserID) (*domain.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.running[owner]
	return j, ok
}

type fixture struct {
	m        *Machine
	jobs     *fakeJobs
	registry *repository.SessionRegistry
	history  *repository.InMemoryHistoryRepository
	val      *fakeValidator
	sess     *session.Recorder
	ctx      context.Context
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Divider == "" {
		cfg.Divider = "---"
	}
	f := &fixture{
		jobs:     newFakeJobs(),
		registry: repository.NewSessionRegistry(),
		history:  repository.NewInMemoryHistoryRepository(),
		val:      &fakeValidator{unreachable: map[string]bool{}},
		sess:     session.NewRecorder(100),
		ctx:      context.Background(),
	}
	f.m = NewMachine(cfg, f.val, f.jobs, f.registry, f.history, testLogger())
	f.m.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) say(texts ...string) {
	for _, text := range texts {
		f.m.Handle(f.ctx, f.sess, text)
	}
}

func (f *fixture) lastText() string {
	msgs := f.sess.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == "text" {
			return msgs[i].Text
		}
	}
	return ""
}

func TestDownloadFlow_ManualFilename(t *testing.T) {
	f := newFixture(t, Config{})

	f.say("/download")
	assert.Equal(t, StateAwaitingURL, f.m.State(100))

	f.say("https://example.com/v.mp4")
	assert.Equal(t, StateAwaitingFilename, f.m.State(100))

	f.say("holiday.mp4")
	assert.Equal(t, StateAwaitingConfirmation, f.m.State(100))
	assert.Equal(t, domain.Request{SourceURL: "https://example.com/v.mp4", Filename: "holiday.mp4"}, f.m.Request(100))

	f.say("y")
	assert.Equal(t, StateIdle, f.m.State(100))
	require.Len(t, f.jobs.submitted, 1)
	assert.Equal(t, "holiday.mp4", f.jobs.submitted[0].Filename)
	assert.True(t, f.m.Request(100).IsEmpty(), "a fresh request follows every submission")
}

func TestDownloadFlow_InvalidURLStays(t *testing.T) {
	f := newFixture(t, Config{})
	f.val.unreachable["https://dead.example/v.mp4"] = true

	f.say("/download", "not a url")
	assert.Equal(t, StateAwaitingURL, f.m.State(100))
	assert.Contains(t, f.lastText(), "not a valid URL")

	f.say("https://dead.example/v.mp4")
	assert.Equal(t, StateAwaitingURL, f.m.State(100))
	assert.Contains(t, f.lastText(), "not reachable")
	assert.Empty(t, f.m.Request(100).SourceURL)
}

func TestDownloadFlow_FilenameRepromptsSilently(t *testing.T) {
	f := newFixture(t, Config{})
	f.say("/download", "https://example.com/v.mp4")
	f.sess.Reset()

	for _, bad := range []string{"a.b", "abcd", strings.Repeat("x", 255)} {
		f.say(bad)
		assert.Equal(t, StateAwaitingFilename, f.m.State(100), "input %q", bad)
	}
	assert.Empty(t, f.sess.Texts(domain.SeverityWarning))
	assert.Empty(t, f.sess.Texts(domain.SeverityError))
	assert.Len(t, f.sess.Texts(domain.SeverityInfo), 3)

	f.say("abcde")
	assert.Equal(t, StateAwaitingConfirmation, f.m.State(100))
}

func TestConfirmation(t *testing.T) {
	tests := []struct {
		input     string
		submitted bool
		state     State
		reset     bool
	}{
		{"y", true, StateIdle, true},
		{"yes", true, StateIdle, true},
		{"n", false, StateIdle, true},
		{"no", false, StateIdle, true},
		{"maybe", false, StateAwaitingConfirmation, false},
		{"Y", false, StateAwaitingConfirmation, false},
		{"YES", false, StateAwaitingConfirmation, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f := newFixture(t, Config{AutomaticFilename: true})
			f.say("/download", "https://example.com/v.mp4")
			require.Equal(t, StateAwaitingConfirmation, f.m.State(100))
			before := f.m.Request(100)

			f.say(tt.input)

			assert.Equal(t, tt.state, f.m.State(100))
			assert.Equal(t, tt.submitted, len(f.jobs.submitted) == 1)
			if tt.reset {
				assert.True(t, f.m.Request(100).IsEmpty())
			} else {
				assert.Equal(t, before, f.m.Request(100), "request must not change")
			}
		})
	}
}

func TestDownloadFlow_AutomaticFilename(t *testing.T) {
	f := newFixture(t, Config{AutomaticFilename: true})
	f.say("/download", "https://example.com/v.mp4")

	assert.Equal(t, StateAwaitingConfirmation, f.m.State(100))
	assert.Equal(t, "06012024-120000.mp4", f.m.Request(100).Filename)
}

func TestDownloadFlow_SkipWizard(t *testing.T) {
	f := newFixture(t, Config{SkipWizard: true})
	f.say("/download", "https://example.com/v.mp4")

	assert.Equal(t, StateIdle, f.m.State(100))
	require.Len(t, f.jobs.submitted, 1)
	assert.Equal(t, "06012024-120000.mp4", f.jobs.submitted[0].Filename)
}

func TestDownloadFlow_BusyUserIsRefused(t *testing.T) {
	f := newFixture(t, Config{})
	f.jobs.running[100] = domain.NewJob("job-x", 100, domain.Request{SourceURL: "https://example.com/a"}, "a", nil)

	f.say("/download")
	assert.Equal(t, StateIdle, f.m.State(100))
	warnings := f.sess.Texts(domain.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "/stop")
}

func TestDownloadFlow_SubmitRejected(t *testing.T) {
	f := newFixture(t, Config{AutomaticFilename: true})
	f.jobs.submitErr = domain.ErrAlreadyRunning

	f.say("/download", "https://example.com/v.mp4", "yes")
	assert.Equal(t, StateIdle, f.m.State(100))
	assert.Len(t, f.sess.Texts(domain.SeverityWarning), 1)
}

func TestCancel(t *testing.T) {
	for _, word := range []string{"/cancel", "exit", "EXIT"} {
		t.Run(word, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.say("/download", "https://example.com/v.mp4")
			require.Equal(t, StateAwaitingFilename, f.m.State(100))

			f.say(word)
			assert.Equal(t, StateIdle, f.m.State(100))
			assert.True(t, f.m.Request(100).IsEmpty())
			assert.Contains(t, f.lastText(), "closed")
		})
	}

	f := newFixture(t, Config{})
	f.say("/cancel")
	assert.Contains(t, f.lastText(), "Nothing to cancel")
}

func TestStop(t *testing.T) {
	f := newFixture(t, Config{})

	f.say("/stop")
	assert.Len(t, f.sess.Texts(domain.SeverityWarning), 1)

	f.jobs.running[100] = domain.NewJob("job-x", 100, domain.Request{SourceURL: "https://example.com/a"}, "a", nil)
	f.say("/stop")
	success := f.sess.Texts(domain.SeveritySuccess)
	require.Len(t, success, 1)
	assert.Contains(t, success[0], "1 partial file")
	assert.Equal(t, []domain.UserID{100}, f.jobs.cancelled)
}

func TestCaptionFlow_Complete(t *testing.T) {
	f := newFixture(t, Config{Divider: "==="})
	f.registry.PutThumbnail(100, domain.NewRemoteThumbnail("https://thumb.example/1.jpg"))

	f.say("/thumbnail")
	assert.Equal(t, StateAwaitingTitle, f.m.State(100))
	f.say("  Great title  ")
	assert.Equal(t, StateAwaitingModels, f.m.State(100))
	f.say("Alice, Bob,")
	assert.Equal(t, StateAwaitingCategories, f.m.State(100))
	f.say("Nature")
	assert.Equal(t, StateAwaitingVideoURL, f.m.State(100))
	f.say("https://host.example/f/1")
	assert.Equal(t, StateIdle, f.m.State(100))

	var photos []session.Message
	for _, m := range f.sess.Messages() {
		if m.Kind == "photo" {
			photos = append(photos, m)
		}
	}
	require.Len(t, photos, 1)
	assert.Equal(t, "https://thumb.example/1.jpg", photos[0].Ref)
	assert.Equal(t, "Great title\n===\nModels: Alice, Bob\nCategories: Nature\n===\nhttps://host.example/f/1", photos[0].Text)

	art, ok := f.registry.Thumbnail(100)
	require.True(t, ok, "the thumbnail reference is kept after the wizard")
	assert.Equal(t, domain.CaptionState{}, art.Caption)
}

func TestCaptionFlow_ValidationKeepsState(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.PutThumbnail(100, domain.NewLocalThumbnail("/previews/a.jpg"))

	f.say("/thumbnail", "   ")
	assert.Equal(t, StateAwaitingTitle, f.m.State(100))
	f.say(strings.Repeat("t", MaxTitleLength+1))
	assert.Equal(t, StateAwaitingTitle, f.m.State(100))

	f.say("Title", " , ,")
	assert.Equal(t, StateAwaitingModels, f.m.State(100))
	f.say(strings.Repeat("m", MaxEntryLength+1))
	assert.Equal(t, StateAwaitingModels, f.m.State(100))

	f.say("Alice", "Cat", "not-a-url")
	assert.Equal(t, StateAwaitingVideoURL, f.m.State(100))
	assert.Len(t, f.sess.Texts(domain.SeverityWarning), 5)
}

func TestCaptionFlow_UnreachableVideoURLOnlyWarns(t *testing.T) {
	f := newFixture(t, Config{})
	f.val.unreachable["https://host.example/down"] = true
	f.registry.PutThumbnail(100, domain.NewRemoteThumbnail("https://thumb.example/1.jpg"))

	f.say("/thumbnail", "Title", "Alice", "Cat", "https://host.example/down")
	assert.Equal(t, StateIdle, f.m.State(100))
	assert.Len(t, f.sess.Texts(domain.SeverityWarning), 1)

	var photos int
	for _, m := range f.sess.Messages() {
		if m.Kind == "photo" {
			photos++
		}
	}
	assert.Equal(t, 1, photos)
}

func TestCaptionFlow_NoThumbnailAtAnyStep(t *testing.T) {
	steps := []struct {
		state State
		input []string
	}{
		{StateAwaitingTitle, nil},
		{StateAwaitingModels, []string{"Title"}},
		{StateAwaitingCategories, []string{"Title", "Alice"}},
		{StateAwaitingVideoURL, []string{"Title", "Alice", "Cat"}},
	}
	for _, step := range steps {
		t.Run(step.state.String(), func(t *testing.T) {
			f := newFixture(t, Config{})
			f.registry.PutThumbnail(100, domain.NewRemoteThumbnail("https://thumb.example/1.jpg"))
			f.say("/thumbnail")
			f.say(step.input...)
			require.Equal(t, step.state, f.m.State(100))

			f.registry.Clear()
			f.sess.Reset()
			f.say("https://host.example/f/1")

			assert.Equal(t, StateIdle, f.m.State(100))
			warnings := f.sess.Texts(domain.SeverityWarning)
			require.Len(t, warnings, 1)
			assert.Contains(t, warnings[0], "No thumbnail")
		})
	}

	f := newFixture(t, Config{})
	f.say("/thumbnail")
	assert.Equal(t, StateIdle, f.m.State(100))
	assert.Contains(t, f.lastText(), "No thumbnail")
}

func TestCaptionFlow_CancelResetsCaption(t *testing.T) {
	f := newFixture(t, Config{})
	f.registry.PutThumbnail(100, domain.NewRemoteThumbnail("https://thumb.example/1.jpg"))

	f.say("/thumbnail", "Title", "Alice", "exit")
	assert.Equal(t, StateIdle, f.m.State(100))

	art, ok := f.registry.Thumbnail(100)
	require.True(t, ok)
	assert.Equal(t, "https://thumb.example/1.jpg", art.URL)
	assert.Equal(t, domain.CaptionState{}, art.Caption)
}

func TestStatusAndHistory(t *testing.T) {
	f := newFixture(t, Config{})

	f.say("/status")
	assert.Contains(t, f.lastText(), "No download is running")

	f.jobs.running[100] = domain.NewJob("job-x", 100, domain.Request{SourceURL: "https://example.com/a.mp4"}, "a", nil)
	f.say("/status")
	assert.Contains(t, f.lastText(), "https://example.com/a.mp4: downloading")

	f.say("/history")
	assert.Contains(t, f.lastText(), "No uploads yet")

	require.NoError(t, f.history.Record(f.ctx, domain.HistoryEntry{
		ID: "job-1", Owner: 100, SourceURL: "https://example.com/a.mp4", Filename: "a.mp4",
		RemoteURL: "https://host.example/f/1", Size: 2048, CreatedAt: fixedNow.Add(-time.Hour),
	}))
	f.say("/history")
	assert.Contains(t, f.lastText(), "1. a.mp4 (2.0 kB) 1 hour ago - https://host.example/f/1")
}

func TestCommandsAndIdleText(t *testing.T) {
	f := newFixture(t, Config{})

	f.say("/start")
	assert.Contains(t, f.lastText(), "/download")
	f.say("/help@RimeSegateBot")
	assert.Contains(t, f.lastText(), "/thumbnail")
	f.say("/bogus")
	assert.Contains(t, f.lastText(), "Unknown command /bogus")
	f.say("hello")
	assert.Contains(t, f.lastText(), "/download")
}

func TestParseCommand(t *testing.T) {
	tests := map[string]string{
		"/download":           "download",
		"/Download":           "download",
		"/help@RimeSegateBot": "help",
		"/status now":         "status",
	}
	for in, want := range tests {
		got, ok := parseCommand(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseCommand("download")
	assert.False(t, ok)
	_, ok = parseCommand("/")
	assert.False(t, ok)
}

func TestUsersAreIndependent(t *testing.T) {
	f := newFixture(t, Config{})
	other := session.NewRecorder(200)

	f.say("/download")
	f.m.Handle(f.ctx, other, "/thumbnail")

	assert.Equal(t, StateAwaitingURL, f.m.State(100))
	assert.Equal(t, StateIdle, f.m.State(200))
}

func TestIdleUsersAreForgotten(t *testing.T) {
	f := newFixture(t, Config{})
	for id := domain.UserID(1); id <= 5; id++ {
		f.m.Handle(f.ctx, session.NewRecorder(id), "/help")
	}
	assert.Equal(t, 0, f.m.tracked())

	f.say("/download", "https://example.com/v.mp4")
	assert.Equal(t, 1, f.m.tracked())
	assert.Equal(t, StateAwaitingFilename, f.m.State(100))

	f.say("/cancel")
	assert.Equal(t, 0, f.m.tracked())
	assert.Equal(t, StateIdle, f.m.State(100))

	f.say("/download")
	assert.Equal(t, StateAwaitingURL, f.m.State(100))
}
