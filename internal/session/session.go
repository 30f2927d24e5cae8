// Package session defines the chat-side view of one user: where pipeline
// messages, photos and videos are delivered.
package session

import (
	"context"
	"sync"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// Session delivers output to a single user.
type Session interface {
	// UserID identifies the user the session talks to.
	UserID() domain.UserID

	// SendText sends msg prefixed with the severity tag.
	SendText(ctx context.Context, sev domain.Severity, msg string) error

	// SendPhoto sends the thumbnail with an optional caption.
	SendPhoto(ctx context.Context, thumb *domain.ThumbnailArtifact, caption string) error

	// SendVideo sends a local video file.
	SendVideo(ctx context.Context, path string) error
}

// Message is one outbound item captured by a Recorder.
type Message struct {
	Kind     string // text, photo or video
	Severity domain.Severity
	Text     string
	Ref      string
}

// Recorder is an in-memory Session for tests.
type Recorder struct {
	ID domain.UserID

	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned by every send.
	Err error
}

// NewRecorder creates a recorder for the given user.
func NewRecorder(id domain.UserID) *Recorder {
	return &Recorder{ID: id}
}

func (r *Recorder) UserID() domain.UserID { return r.ID }

func (r *Recorder) SendText(ctx context.Context, sev domain.Severity, msg string) error {
	return r.add(Message{Kind: "text", Severity: sev, Text: msg})
}

func (r *Recorder) SendPhoto(ctx context.Context, thumb *domain.ThumbnailArtifact, caption string) error {
	return r.add(Message{Kind: "photo", Text: caption, Ref: thumb.Ref()})
}

func (r *Recorder) SendVideo(ctx context.Context, path string) error {
	return r.add(Message{Kind: "video", Ref: path})
}

func (r *Recorder) add(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, m)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Texts returns the text messages with the given severity.
func (r *Recorder) Texts(sev domain.Severity) []string {
	var out []string
	for _, m := range r.Messages() {
		if m.Kind == "text" && m.Severity == sev {
			out = append(out, m.Text)
		}
	}
	return out
}

// Reset drops recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}
