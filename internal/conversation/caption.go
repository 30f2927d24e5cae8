package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// Caption field bounds.
const (
	MaxTitleLength = 200
	MaxEntryLength = 64
)

// parseTitle trims the title and checks its length.
func parseTitle(text string) (string, error) {
	title := strings.TrimSpace(text)
	if title == "" {
		return "", fmt.Errorf("%w: the title cannot be empty", domain.ErrValidation)
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return "", fmt.Errorf("%w: the title is %d characters long, the limit is %d", domain.ErrValidation, n, MaxTitleLength)
	}
	return title, nil
}

// parseList splits a comma separated list, dropping empty entries.
func parseList(field, text string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(text, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		if utf8.RuneCountInString(entry) > MaxEntryLength {
			return nil, fmt.Errorf("%w: %s entry %q is longer than %d characters", domain.ErrValidation, field, entry, MaxEntryLength)
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: send at least one %s, separated by commas", domain.ErrValidation, field)
	}
	return out, nil
}
