package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

const greeting = "Hi! Send me a link with /download and I will fetch it, publish it and prepare its thumbnail. Send /help for every command."

const helpText = `Commands:
/download - download a media URL
/cancel - leave the current wizard (or send exit)
/stop - stop the running download
/thumbnail - compose the caption of the last thumbnail
/status - show the running download
/history - list your last uploads
/help - show this message`

const filenamePrompt = "Send the filename to save the media as (between 5 and 254 characters)."

const noThumbnailMessage = "No thumbnail available. Download something first."

func (c *turn) status() {
	job, ok := c.m.jobs.Job(c.owner())
	if !ok {
		msg := "No download is running."
		if _, has := c.m.thumbs.Thumbnail(c.owner()); has {
			msg += " A thumbnail is ready, send /thumbnail to caption it."
		}
		c.send(domain.SeverityInfo, msg)
		return
	}

	status, since := job.Status()
	c.send(domain.SeverityInfo, fmt.Sprintf("%s: %s since %s (started %s)",
		job.Request.SourceURL,
		status,
		humanize.RelTime(since, c.m.now(), "ago", "from now"),
		humanize.RelTime(job.StartedAt, c.m.now(), "ago", "from now"),
	))
}

func (c *turn) listHistory() {
	if c.m.history == nil {
		c.send(domain.SeverityInfo, "History is disabled.")
		return
	}

	entries, err := c.m.history.ListByOwner(c.ctx, c.owner(), c.m.cfg.HistoryLimit)
	if err != nil {
		c.m.logger.Error("failed to list history", "user_id", c.owner(), "error", err)
		c.send(domain.SeverityError, "Could not load the history.")
		return
	}
	if len(entries) == 0 {
		c.send(domain.SeverityInfo, "No uploads yet.")
		return
	}

	c.send(domain.SeverityInfo, formatHistory(entries, c.m.now()))
}

func formatHistory(entries []domain.HistoryEntry, now time.Time) string {
	var b strings.Builder
	b.WriteString("Last uploads:")
	for i, e := range entries {
		link := e.RemoteURL
		if link == "" {
			link = e.SourceURL
		}
		fmt.Fprintf(&b, "\n%d. %s (%s) %s - %s",
			i+1,
			e.Filename,
			humanize.Bytes(uint64(max(e.Size, 0))),
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
			link,
		)
	}
	return b.String()
}
