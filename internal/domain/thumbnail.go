package domain

import "strings"

// ThumbnailKind tells whether a thumbnail lives on the upload service or on local disk.
type ThumbnailKind int

const (
	ThumbnailRemote ThumbnailKind = iota + 1
	ThumbnailLocal
)

// String returns a short name for the kind.
func (k ThumbnailKind) String() string {
	switch k {
	case ThumbnailRemote:
		return "remote"
	case ThumbnailLocal:
		return "local"
	default:
		return "unknown"
	}
}

// CaptionState is filled step by step by the caption wizard.
type CaptionState struct {
	Title      string
	Models     []string
	Categories []string
	VideoURL   string
}

// Complete reports whether every caption field has been collected.
func (c CaptionState) Complete() bool {
	return c.Title != "" && len(c.Models) > 0 && len(c.Categories) > 0 && c.VideoURL != ""
}

// ThumbnailArtifact is the thumbnail of a user's most recent job plus the caption being
// composed for it. Exactly one of URL (remote) or Path (local) is set.
type ThumbnailArtifact struct {
	Kind    ThumbnailKind
	URL     string
	Path    string
	Caption CaptionState
}

// NewRemoteThumbnail creates an artifact that points at a URL.
func NewRemoteThumbnail(url string) *ThumbnailArtifact {
	return &ThumbnailArtifact{Kind: ThumbnailRemote, URL: url}
}

// NewLocalThumbnail creates an artifact that points at a local image.
func NewLocalThumbnail(path string) *ThumbnailArtifact {
	return &ThumbnailArtifact{Kind: ThumbnailLocal, Path: path}
}

// Ref returns the URL or path the artifact points at.
func (t *ThumbnailArtifact) Ref() string {
	if t.Kind == ThumbnailLocal {
		return t.Path
	}
	return t.URL
}

// Clone returns a deep copy.
func (t *ThumbnailArtifact) Clone() *ThumbnailArtifact {
	c := *t
	c.Caption.Models = append([]string(nil), t.Caption.Models...)
	c.Caption.Categories = append([]string(nil), t.Caption.Categories...)
	return &c
}

// ResetCaption clears the caption fields and keeps the thumbnail reference.
func (t *ThumbnailArtifact) ResetCaption() {
	t.Caption = CaptionState{}
}

// BuildCaption composes the final message text. Empty lists are omitted.
func BuildCaption(c CaptionState, divider string) string {
	var b strings.Builder
	b.WriteString(c.Title)
	b.WriteString("\n")
	b.WriteString(divider)
	if len(c.Models) > 0 {
		b.WriteString("\nModels: ")
		b.WriteString(strings.Join(c.Models, ", "))
	}
	if len(c.Categories) > 0 {
		b.WriteString("\nCategories: ")
		b.WriteString(strings.Join(c.Categories, ", "))
	}
	b.WriteString("\n")
	b.WriteString(divider)
	b.WriteString("\n")
	b.WriteString(c.VideoURL)
	return b.String()
}
