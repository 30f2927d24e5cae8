package domain

import (
	"strconv"
	"unicode/utf8"
)

// UserID identifies the remote user a conversation, job or thumbnail belongs to.
type UserID int64

// String returns the decimal representation of the UserID.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses a decimal user identifier.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(v), nil
}

// Filename length bounds (exclusive) for user supplied names.
const (
	MinFilenameLength = 4
	MaxFilenameLength = 255
)

// Request describes one download: where to fetch from and what to call the result.
// It starts empty, gets its URL and then its filename from the download wizard,
// and is consumed once by the job supervisor.
type Request struct {
	SourceURL string
	Filename  string
}

// IsEmpty reports whether neither field has been filled.
func (r Request) IsEmpty() bool {
	return r.SourceURL == "" && r.Filename == ""
}

// ValidFilename reports whether a user supplied filename has an acceptable length.
func ValidFilename(name string) bool {
	n := utf8.RuneCountInString(name)
	return n > MinFilenameLength && n < MaxFilenameLength
}
