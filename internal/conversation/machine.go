// Package conversation implements the per-user wizards that collect a download
// request and compose the caption of a finished job's thumbnail.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/repository"
	"github.com/lucadibello/RimeSegateBot/internal/session"
)

// State is the step a user is at.
type State int

const (
	StateIdle State = iota
	StateAwaitingURL
	StateAwaitingFilename
	StateAwaitingConfirmation
	StateAwaitingTitle
	StateAwaitingModels
	StateAwaitingCategories
	StateAwaitingVideoURL
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingURL:
		return "awaiting_url"
	case StateAwaitingFilename:
		return "awaiting_filename"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateAwaitingTitle:
		return "awaiting_title"
	case StateAwaitingModels:
		return "awaiting_models"
	case StateAwaitingCategories:
		return "awaiting_categories"
	case StateAwaitingVideoURL:
		return "awaiting_video_url"
	default:
		return "unknown"
	}
}

func (s State) inDownloadFlow() bool {
	return s >= StateAwaitingURL && s <= StateAwaitingConfirmation
}

func (s State) inCaptionFlow() bool {
	return s >= StateAwaitingTitle && s <= StateAwaitingVideoURL
}

// Validator checks URLs sent by the user.
type Validator interface {
	CheckFormat(raw string) bool
	CheckReachable(ctx context.Context, raw string) bool
}

// Jobs starts and stops download jobs.
type Jobs interface {
	Submit(req domain.Request, sess session.Session) (*domain.Job, error)
	Cancel(ctx context.Context, owner domain.UserID) ([]string, error)
	Job(owner domain.UserID) (*domain.Job, bool)
}

// Config holds wizard behavior switches.
type Config struct {
	AutomaticFilename bool
	SkipWizard        bool
	Divider           string
	HistoryLimit      int
}

type userState struct {
	mu    sync.Mutex
	state State
	req   domain.Request
	gone  bool
}

// Machine routes inbound text of every user through that user's wizard.
type Machine struct {
	cfg       Config
	validator Validator
	jobs      Jobs
	thumbs    repository.ThumbnailStore
	history   repository.HistoryRepository
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	users map[domain.UserID]*userState
}

// NewMachine creates a conversation machine. history may be nil.
func NewMachine(
	cfg Config,
	validator Validator,
	jobs Jobs,
	thumbs repository.ThumbnailStore,
	history repository.HistoryRepository,
	logger *slog.Logger,
) *Machine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Machine{
		cfg:       cfg,
		validator: validator,
		jobs:      jobs,
		thumbs:    thumbs,
		history:   history,
		logger:    logger.With("component", "conversation"),
		now:       time.Now,
		users:     make(map[domain.UserID]*userState),
	}
}

// acquire returns the user's state locked, creating it on first use.
func (m *Machine) acquire(id domain.UserID) *userState {
	for {
		m.mu.Lock()
		u, ok := m.users[id]
		if !ok {
			u = &userState{}
			m.users[id] = u
		}
		m.mu.Unlock()

		u.mu.Lock()
		if !u.gone {
			return u
		}
		u.mu.Unlock()
	}
}

// release unlocks u and forgets it when the user has nothing in progress.
func (m *Machine) release(id domain.UserID, u *userState) {
	if u.state == StateIdle && u.req.IsEmpty() {
		m.mu.Lock()
		if m.users[id] == u {
			delete(m.users, id)
		}
		m.mu.Unlock()
		u.gone = true
	}
	u.mu.Unlock()
}

func (m *Machine) lookup(id domain.UserID) (*userState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok
}

// State returns the user's current step.
func (m *Machine) State(id domain.UserID) State {
	u, ok := m.lookup(id)
	if !ok {
		return StateIdle
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gone {
		return StateIdle
	}
	return u.state
}

// Request returns the request being collected for the user.
func (m *Machine) Request(id domain.UserID) domain.Request {
	u, ok := m.lookup(id)
	if !ok {
		return domain.Request{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gone {
		return domain.Request{}
	}
	return u.req
}

// tracked returns how many users have a flow in progress.
func (m *Machine) tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// Handle processes one inbound message. Commands are accepted in any state.
func (m *Machine) Handle(ctx context.Context, sess session.Session, text string) {
	id := sess.UserID()
	u := m.acquire(id)
	defer m.release(id, u)

	c := &turn{m: m, u: u, sess: sess, ctx: ctx}
	trimmed := strings.TrimSpace(text)

	if cmd, ok := parseCommand(trimmed); ok {
		c.command(cmd)
		return
	}
	if strings.EqualFold(trimmed, "exit") {
		c.cancel()
		return
	}

	switch u.state {
	case StateAwaitingURL:
		c.onURL(trimmed)
	case StateAwaitingFilename:
		c.onFilename(trimmed)
	case StateAwaitingConfirmation:
		c.onConfirmation(trimmed)
	case StateAwaitingTitle:
		c.onTitle(text)
	case StateAwaitingModels:
		c.onModels(text)
	case StateAwaitingCategories:
		c.onCategories(text)
	case StateAwaitingVideoURL:
		c.onVideoURL(trimmed)
	default:
		c.send(domain.SeverityInfo, "Send /download to start a download or /help for the command list.")
	}
}

// parseCommand extracts "/name" from text, dropping a "@bot" suffix and arguments.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), name != ""
}

// turn is one message being handled with the user's lock held.
type turn struct {
	m    *Machine
	u    *userState
	sess session.Session
	ctx  context.Context
}

func (c *turn) owner() domain.UserID { return c.sess.UserID() }

func (c *turn) send(sev domain.Severity, msg string) {
	if err := c.sess.SendText(c.ctx, sev, msg); err != nil {
		c.m.logger.Warn("failed to send message", "user_id", c.owner(), "error", err)
	}
}

func (c *turn) transition(to State) {
	if c.u.state != to {
		c.m.logger.Debug("state transition", "user_id", c.owner(), "from", c.u.state, "to", to)
	}
	c.u.state = to
}

func (c *turn) command(name string) {
	switch name {
	case "start":
		c.send(domain.SeverityInfo, greeting)
	case "help":
		c.send(domain.SeverityInfo, helpText)
	case "download":
		c.enterDownload()
	case "cancel":
		c.cancel()
	case "stop":
		c.stop()
	case "thumbnail":
		c.enterCaption()
	case "status":
		c.status()
	case "history":
		c.listHistory()
	default:
		c.send(domain.SeverityWarning, fmt.Sprintf("Unknown command /%s. Send /help for the command list.", name))
	}
}

// leave abandons whatever wizard the user is in.
func (c *turn) leave() {
	if c.u.state.inCaptionFlow() {
		c.m.thumbs.ResetCaption(c.owner())
	}
	c.u.req = domain.Request{}
	c.transition(StateIdle)
}

// Download flow

func (c *turn) enterDownload() {
	if job, ok := c.m.jobs.Job(c.owner()); ok {
		status, _ := job.Status()
		c.send(domain.SeverityWarning, fmt.Sprintf("A download is already running (%s). Use /stop to cancel it.", status))
		return
	}
	c.leave()
	c.transition(StateAwaitingURL)
	c.send(domain.SeverityInfo, "Send the URL of the media to download. Send exit to abort.")
}

func (c *turn) onURL(text string) {
	if !c.m.validator.CheckFormat(text) {
		c.send(domain.SeverityWarning, "This is not a valid URL. Send an http or https link.")
		return
	}
	if !c.m.validator.CheckReachable(c.ctx, text) {
		c.send(domain.SeverityWarning, "The URL is not reachable. Check the link and send it again.")
		return
	}
	c.u.req.SourceURL = text

	switch {
	case c.m.cfg.SkipWizard:
		c.u.req.Filename = c.autoFilename()
		c.submit()
	case c.m.cfg.AutomaticFilename:
		c.u.req.Filename = c.autoFilename()
		c.askConfirmation()
	default:
		c.transition(StateAwaitingFilename)
		c.send(domain.SeverityInfo, filenamePrompt)
	}
}

func (c *turn) autoFilename() string {
	return domain.AutoFilename(c.m.now()) + domain.ExtensionFromURL(c.u.req.SourceURL)
}

func (c *turn) onFilename(text string) {
	if !domain.ValidFilename(text) {
		c.send(domain.SeverityInfo, filenamePrompt)
		return
	}
	c.u.req.Filename = text
	c.askConfirmation()
}

func (c *turn) askConfirmation() {
	c.transition(StateAwaitingConfirmation)
	c.send(domain.SeverityInfo, fmt.Sprintf("Download %s as %s? Reply y or n.", c.u.req.SourceURL, c.u.req.Filename))
}

func (c *turn) onConfirmation(text string) {
	switch text {
	case "y", "yes":
		c.submit()
	case "n", "no":
		c.u.req = domain.Request{}
		c.transition(StateIdle)
		c.send(domain.SeverityInfo, "Download discarded.")
	default:
		c.send(domain.SeverityInfo, "Reply y to start the download or n to discard it.")
	}
}

func (c *turn) submit() {
	req := c.u.req
	c.u.req = domain.Request{}
	c.transition(StateIdle)

	job, err := c.m.jobs.Submit(req, c.sess)
	if err != nil {
		c.m.logger.Warn("submit rejected", "user_id", c.owner(), "error", err)
		sev, msg := domain.UserMessage(err)
		c.send(sev, msg)
		return
	}
	c.m.logger.Info("download submitted", "user_id", c.owner(), "job_id", job.ID)
	c.send(domain.SeverityInfo, fmt.Sprintf("Download queued as %s. Use /status to follow it.", req.Filename))
}

func (c *turn) cancel() {
	switch {
	case c.u.state.inDownloadFlow():
		c.leave()
		c.send(domain.SeverityInfo, "Download wizard closed.")
	case c.u.state.inCaptionFlow():
		c.leave()
		c.send(domain.SeverityInfo, "Caption wizard closed.")
	default:
		c.send(domain.SeverityInfo, "Nothing to cancel.")
	}
}

func (c *turn) stop() {
	removed, err := c.m.jobs.Cancel(c.ctx, c.owner())
	if err != nil {
		sev, msg := domain.UserMessage(err)
		c.send(sev, msg)
		return
	}
	msg := "Download stopped."
	if len(removed) > 0 {
		msg += fmt.Sprintf(" Removed %d partial file(s).", len(removed))
	}
	c.send(domain.SeveritySuccess, msg)
}

// Caption flow

func (c *turn) enterCaption() {
	if _, ok := c.m.thumbs.Thumbnail(c.owner()); !ok {
		c.leave()
		c.send(domain.SeverityWarning, noThumbnailMessage)
		return
	}
	c.leave()
	c.m.thumbs.ResetCaption(c.owner())
	c.transition(StateAwaitingTitle)
	c.send(domain.SeverityInfo, "Send the title of the video.")
}

// updateCaption applies fn to the stored caption. A missing thumbnail ends the flow.
func (c *turn) updateCaption(fn func(*domain.CaptionState)) bool {
	if err := c.m.thumbs.UpdateCaption(c.owner(), fn); err != nil {
		c.u.req = domain.Request{}
		c.transition(StateIdle)
		if errors.Is(err, domain.ErrNoThumbnail) {
			c.send(domain.SeverityWarning, noThumbnailMessage)
		} else {
			sev, msg := domain.UserMessage(err)
			c.send(sev, msg)
		}
		return false
	}
	return true
}

// requireThumbnail ends the flow when the user has no artifact.
func (c *turn) requireThumbnail() (*domain.ThumbnailArtifact, bool) {
	art, ok := c.m.thumbs.Thumbnail(c.owner())
	if !ok {
		c.transition(StateIdle)
		c.send(domain.SeverityWarning, noThumbnailMessage)
	}
	return art, ok
}

func (c *turn) onTitle(text string) {
	if _, ok := c.requireThumbnail(); !ok {
		return
	}
	title, err := parseTitle(text)
	if err != nil {
		c.send(domain.SeverityWarning, validationReason(err))
		return
	}
	if c.updateCaption(func(cs *domain.CaptionState) { cs.Title = title }) {
		c.transition(StateAwaitingModels)
		c.send(domain.SeverityInfo, "Send the models, separated by commas.")
	}
}

func (c *turn) onModels(text string) {
	if _, ok := c.requireThumbnail(); !ok {
		return
	}
	models, err := parseList("model", text)
	if err != nil {
		c.send(domain.SeverityWarning, validationReason(err))
		return
	}
	if c.updateCaption(func(cs *domain.CaptionState) { cs.Models = models }) {
		c.transition(StateAwaitingCategories)
		c.send(domain.SeverityInfo, "Send the categories, separated by commas.")
	}
}

func (c *turn) onCategories(text string) {
	if _, ok := c.requireThumbnail(); !ok {
		return
	}
	categories, err := parseList("category", text)
	if err != nil {
		c.send(domain.SeverityWarning, validationReason(err))
		return
	}
	if c.updateCaption(func(cs *domain.CaptionState) { cs.Categories = categories }) {
		c.transition(StateAwaitingVideoURL)
		c.send(domain.SeverityInfo, "Send the URL of the video page.")
	}
}

func (c *turn) onVideoURL(text string) {
	if _, ok := c.requireThumbnail(); !ok {
		return
	}
	if !c.m.validator.CheckFormat(text) {
		c.send(domain.SeverityWarning, "This is not a valid URL. Send an http or https link.")
		return
	}
	if !c.m.validator.CheckReachable(c.ctx, text) {
		c.send(domain.SeverityWarning, "The video URL is not reachable right now. It will be used anyway.")
	}
	if !c.updateCaption(func(cs *domain.CaptionState) { cs.VideoURL = text }) {
		return
	}

	art, ok := c.requireThumbnail()
	if !ok {
		return
	}
	caption := domain.BuildCaption(art.Caption, c.m.cfg.Divider)

	c.m.thumbs.ResetCaption(c.owner())
	c.transition(StateIdle)

	if err := c.sess.SendPhoto(c.ctx, art, caption); err != nil {
		c.m.logger.Error("failed to send captioned thumbnail", "user_id", c.owner(), "error", err)
		c.send(domain.SeverityError, "Could not send the captioned thumbnail: "+err.Error())
	}
}

func validationReason(err error) string {
	msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
