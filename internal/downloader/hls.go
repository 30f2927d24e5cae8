package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// fetchHLS walks an HLS playlist and concatenates its segments into <base>.ts.
// Progress is reported in segments, not bytes.
func (f *HTTPFetcher) fetchHLS(ctx context.Context, playlistURL string, dest Destination, hooks Hooks) (domain.FetchResult, error) {
	name := dest.BaseName + ".ts"
	if f.cfg.OverwriteCheck {
		if err := checkOverwrite(dest.Dir, name); err != nil {
			return domain.FetchResult{}, err
		}
	}

	media, base, err := f.resolveMediaPlaylist(ctx, playlistURL)
	if err != nil {
		return domain.FetchResult{}, err
	}

	segments := make([]string, 0, len(media.Segments))
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if isEncrypted(seg.Key) {
			return domain.FetchResult{}, fmt.Errorf("%w: encrypted HLS streams are not supported", domain.ErrValidation)
		}
		segments = append(segments, resolveReference(base, seg.URI))
	}
	if isEncrypted(media.Key) {
		return domain.FetchResult{}, fmt.Errorf("%w: encrypted HLS streams are not supported", domain.ErrValidation)
	}
	if len(segments) == 0 {
		return domain.FetchResult{}, fmt.Errorf("%w: playlist has no segments", domain.ErrNetwork)
	}

	f.logger.Info("fetching hls", "url", playlistURL, "file", name, "segments", len(segments))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watchdog := newStallWatchdog(f.cfg.ReadTimeout, func() { cancel(errStalled) })
	defer watchdog.stop()

	total := int64(len(segments))
	path, written, err := writeAtomically(dest.Dir, name, func(w io.Writer) (int64, error) {
		var n int64
		buf := make([]byte, copyBufferSize)
		for i, segURL := range segments {
			body, _, err := f.open(ctx, segURL)
			if err != nil {
				return n, fmt.Errorf("segment %d: %w", i, err)
			}
			watchdog.kick()
			c, err := io.CopyBuffer(w, newProgressReader(body, -1, watchdog, nil, f.logger), buf)
			body.Close()
			n += c
			if err != nil {
				return n, fmt.Errorf("segment %d: %w", i, err)
			}
			hooks.progress(int64(i+1), total)
		}
		return n, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrURLExpired) || errors.Is(err, domain.ErrRateLimited) {
			return domain.FetchResult{}, err
		}
		return domain.FetchResult{}, f.copyError(ctx, err)
	}

	return domain.FetchResult{Path: path, Size: written}, nil
}

// resolveMediaPlaylist fetches playlistURL and, for a master playlist, follows the
// highest-bandwidth variant. It returns the media playlist and its base URL.
func (f *HTTPFetcher) resolveMediaPlaylist(ctx context.Context, playlistURL string) (*m3u8.MediaPlaylist, *url.URL, error) {
	playlist, listType, base, err := f.fetchPlaylist(ctx, playlistURL)
	if err != nil {
		return nil, nil, err
	}

	if listType == m3u8.MASTER {
		master := playlist.(*m3u8.MasterPlaylist)
		variant := bestVariant(master)
		if variant == nil {
			return nil, nil, fmt.Errorf("%w: master playlist has no variants", domain.ErrNetwork)
		}
		variantURL := resolveReference(base, variant.URI)
		f.logger.Debug("selected hls variant", "uri", variantURL, "bandwidth", variant.Bandwidth)

		playlist, listType, base, err = f.fetchPlaylist(ctx, variantURL)
		if err != nil {
			return nil, nil, err
		}
		if listType != m3u8.MEDIA {
			return nil, nil, fmt.Errorf("%w: nested master playlists are not supported", domain.ErrNetwork)
		}
	}

	return playlist.(*m3u8.MediaPlaylist), base, nil
}

func (f *HTTPFetcher) fetchPlaylist(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, *url.URL, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	body, _, err := f.open(ctx, playlistURL)
	if err != nil {
		return nil, 0, nil, err
	}
	defer body.Close()

	playlist, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: decode playlist: %v", domain.ErrNetwork, err)
	}
	return playlist, listType, base, nil
}

func bestVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.Iframe {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func isEncrypted(key *m3u8.Key) bool {
	return key != nil && key.Method != "" && !strings.EqualFold(key.Method, "NONE")
}

func resolveReference(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
