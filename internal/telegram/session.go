package telegram

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

const (
	maxMessageLength = 4096
	maxCaptionLength = 1024
)

// chatSession delivers output to one Telegram chat.
type chatSession struct {
	api         API
	userID      domain.UserID
	chatID      int64
	sendTimeout time.Duration
}

func (s *chatSession) UserID() domain.UserID { return s.userID }

// SendText sends msg with its severity tag, split into chunks Telegram accepts.
func (s *chatSession) SendText(ctx context.Context, sev domain.Severity, msg string) error {
	for _, chunk := range splitText(sev.Format(msg), maxMessageLength) {
		if err := s.send(ctx, tgbotapi.NewMessage(s.chatID, chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// SendPhoto sends the thumbnail by URL or by uploading the local file. Captions
// over Telegram's limit follow the photo as a separate message.
func (s *chatSession) SendPhoto(ctx context.Context, thumb *domain.ThumbnailArtifact, caption string) error {
	var file tgbotapi.RequestFileData
	switch thumb.Kind {
	case domain.ThumbnailLocal:
		file = tgbotapi.FilePath(thumb.Path)
	default:
		file = tgbotapi.FileURL(thumb.URL)
	}

	photo := tgbotapi.NewPhoto(s.chatID, file)
	overflow := utf8.RuneCountInString(caption) > maxCaptionLength
	if !overflow {
		photo.Caption = caption
	}
	if err := s.send(ctx, photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	if overflow {
		for _, chunk := range splitText(caption, maxMessageLength) {
			if err := s.send(ctx, tgbotapi.NewMessage(s.chatID, chunk)); err != nil {
				return fmt.Errorf("send caption: %w", err)
			}
		}
	}
	return nil
}

// SendVideo uploads a local video, bounded by the configured send timeout.
func (s *chatSession) SendVideo(ctx context.Context, path string) error {
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}

	video := tgbotapi.NewVideo(s.chatID, tgbotapi.FilePath(path))
	video.SupportsStreaming = true
	if err := s.send(ctx, video); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}

// send runs the blocking API call and gives up when ctx ends.
func (s *chatSession) send(ctx context.Context, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.api.Send(c)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitText cuts text into pieces of at most limit runes.
func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := min(limit, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
