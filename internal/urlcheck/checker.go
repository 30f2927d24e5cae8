// Package urlcheck validates URLs submitted in the conversation.
package urlcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/downloader"
)

// Checker validates URL format and reachability.
type Checker struct {
	validate *validator.Validate
	prober   downloader.Prober
	logger   *slog.Logger
}

// New creates a checker. prober may be nil, in which case every well-formed
// URL is considered reachable.
func New(prober downloader.Prober, logger *slog.Logger) *Checker {
	return &Checker{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		prober:   prober,
		logger:   logger.With("component", "urlcheck"),
	}
}

// CheckFormat reports whether raw is an absolute http(s) URL with a host.
func (c *Checker) CheckFormat(raw string) bool {
	raw = strings.TrimSpace(raw)
	if err := c.validate.Var(raw, "required,http_url"); err != nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CheckReachable reports whether the URL answers with a non-error status.
func (c *Checker) CheckReachable(ctx context.Context, raw string) bool {
	if c.prober == nil {
		return true
	}
	res, err := c.prober.Probe(ctx, strings.TrimSpace(raw))
	if err != nil {
		c.logger.Debug("probe failed", "url", raw, "error", err)
		return false
	}
	if !res.Accessible {
		c.logger.Debug("url not accessible", "url", raw, "status", res.StatusCode, "reason", res.Error)
	}
	return res.Accessible
}

// Validate runs both checks and returns an ErrValidation describing the first failure.
func (c *Checker) Validate(ctx context.Context, raw string) error {
	if !c.CheckFormat(raw) {
		return fmt.Errorf("%w: %q is not a valid http(s) URL", domain.ErrValidation, raw)
	}
	if !c.CheckReachable(ctx, raw) {
		return fmt.Errorf("%w: %s is not reachable", domain.ErrValidation, raw)
	}
	return nil
}
