// Package workflow drives the ticket creation flow: log in, open the
// project, create a task through quick create, then reopen it to set the
// customer and assignee.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/config"
	"ticketbot/internal/resolver"
	"ticketbot/internal/wait"
)

// Step names, in execution order.
const (
	StepLogin    = "login"
	StepNavigate = "navigate"
	StepCreate   = "create"
	StepFill     = "fill"
	StepSubmit   = "submit"
	StepDiscard  = "discard"
	StepOpen     = "open"
	StepEdit     = "edit"
	StepDone     = "done"
)

// Credentials log the workflow into the application.
type Credentials struct {
	Email    string
	Password string
}

// Ticket holds the fields written into the new task. Empty Customer or
// AssignedTo fields are left untouched.
type Ticket struct {
	Title      string
	Customer   string
	AssignedTo string
}

// Result is the outcome of one run.
type Result struct {
	Success     bool     `json:"success"`
	TicketID    string   `json:"ticketId,omitempty"`
	Error       string   `json:"error,omitempty"`
	Step        string   `json:"step,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	// Learned lists the selectors taught by a person during the run, per target.
	Learned map[string][]string `json:"learned,omitempty"`

	Err error `json:"-"`
}

// StepError reports the step a run failed in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Options configures a Controller.
type Options struct {
	BaseURL       string
	Project       string
	Timings       config.TimingsConfig
	ScreenshotDir string
}

// OptionsFromConfig collects the workflow settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:       cfg.App.BaseURL,
		Project:       cfg.App.ProjectName,
		Timings:       cfg.Timings,
		ScreenshotDir: cfg.Artifacts.ScreenshotDir,
	}
}

// Controller runs the workflow on one page.
type Controller struct {
	page   browser.Page
	res    *resolver.Resolver
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	step        string
	onStep      func(step string)
	screenshots []string
	ticketID    string
}

func New(page browser.Page, res *resolver.Resolver, opts Options, logger *zap.Logger) *Controller {
	return &Controller{
		page:   page,
		res:    res,
		opts:   opts,
		logger: logger.Named("workflow"),
	}
}

// OnStep registers fn to be called as each step starts.
func (c *Controller) OnStep(fn func(step string)) {
	c.mu.Lock()
	c.onStep = fn
	c.mu.Unlock()
}

// Step returns the step currently running.
func (c *Controller) Step() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

func (c *Controller) setStep(step string) {
	c.mu.Lock()
	c.step = step
	fn := c.onStep
	c.mu.Unlock()
	c.logger.Info("Starting step", zap.String("step", step))
	if fn != nil {
		fn(step)
	}
}

type step struct {
	name       string
	run        func(ctx context.Context) error
	checkpoint string
	// soft steps run after the ticket exists; their failures are logged
	// and the run continues.
	soft bool
}

// Run executes every step in order and stops at the first failure.
func (c *Controller) Run(ctx context.Context, creds Credentials, t Ticket) Result {
	steps := []step{
		{name: StepLogin, run: func(ctx context.Context) error { return c.login(ctx, creds) }, checkpoint: "after_login"},
		{name: StepNavigate, run: c.navigate, checkpoint: "after_test_support_selection"},
		{name: StepCreate, run: c.create, checkpoint: "after_create"},
		{name: StepFill, run: func(ctx context.Context) error { return c.fill(ctx, t) }, checkpoint: "after_form_fill"},
		{name: StepSubmit, run: c.submit, checkpoint: "after_submit"},
		{name: StepDiscard, run: c.discard, soft: true},
		{name: StepOpen, run: func(ctx context.Context) error { return c.open(ctx, t) }, soft: true},
		{name: StepEdit, run: func(ctx context.Context) error { return c.edit(ctx, t) }, checkpoint: "after_ticket_creation_complete", soft: true},
	}

	for _, s := range steps {
		c.setStep(s.name)
		if err := s.run(ctx); err != nil {
			if s.soft && !fatal(ctx, err) {
				c.logger.Warn("Step failed after the ticket was created, continuing",
					zap.String("step", s.name), zap.Error(err))
			} else {
				stepErr := &StepError{Step: s.name, Err: err}
				c.logger.Error("Workflow failed", zap.String("step", s.name), zap.Error(err))
				c.screenshot(ctx, "error")
				return Result{
					Success:     false,
					TicketID:    c.currentTicketID(),
					Error:       stepErr.Error(),
					Step:        s.name,
					Screenshots: c.shots(),
					Learned:     c.learned(),
					Err:         stepErr,
				}
			}
		}
		if s.checkpoint != "" {
			c.screenshot(ctx, s.checkpoint)
		}
	}
	c.setStep(StepDone)

	id := c.currentTicketID()
	c.logger.Info("Ticket created and updated", zap.String("ticket_id", id), zap.String("title", t.Title))
	return Result{Success: true, TicketID: id, Step: StepDone, Screenshots: c.shots(), Learned: c.learned()}
}

func (c *Controller) currentTicketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticketID
}

func (c *Controller) learned() map[string][]string {
	m := c.res.Memory().Snapshot()
	if len(m) == 0 {
		return nil
	}
	return m
}

func (c *Controller) shots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.screenshots...)
}

// settle waits for animations to finish.
func (c *Controller) settle(ctx context.Context) {
	_ = wait.Sleep(ctx, c.opts.Timings.Settle)
}

func (c *Controller) poll() time.Duration { return c.opts.Timings.PollInterval }
