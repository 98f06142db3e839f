package resolver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/wait"
)

// LearnResult is the outcome of one learning attempt.
type LearnResult struct {
	Selector string
	TimedOut bool
}

// LearnOutcome is delivered once on the channel returned by Learner.Start.
type LearnOutcome struct {
	Result LearnResult
	Err    error
}

// Learner records the element a person clicks in the visible browser.
type Learner struct {
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewLearner(timeout, interval time.Duration, logger *zap.Logger) *Learner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Learner{timeout: timeout, interval: interval, logger: logger}
}

// Start arms a one-shot click capture and waits for it in the background.
// Cancelling ctx abandons the attempt.
func (l *Learner) Start(ctx context.Context, page browser.Page, t Target) <-chan LearnOutcome {
	out := make(chan LearnOutcome, 1)
	go func() {
		defer close(out)
		if err := page.ArmClickCapture(ctx, t.LearnClosest); err != nil {
			out <- LearnOutcome{Err: err}
			return
		}
		l.logger.Warn("Could not find element automatically, click it in the browser",
			zap.String("target", t.Name),
			zap.Duration("timeout", l.timeout))

		var selector string
		err := wait.Until(ctx, l.timeout, l.interval, func(ctx context.Context) (bool, error) {
			s, err := page.CapturedSelector(ctx)
			if err != nil {
				return false, err
			}
			selector = s
			return s != "", nil
		})
		switch {
		case errors.Is(err, wait.ErrTimeout):
			l.logger.Warn("No click captured", zap.String("target", t.Name))
			out <- LearnOutcome{Result: LearnResult{TimedOut: true}}
		case err != nil:
			out <- LearnOutcome{Err: err}
		default:
			l.logger.Info("Learned selector", zap.String("target", t.Name), zap.String("selector", selector))
			out <- LearnOutcome{Result: LearnResult{Selector: selector}}
		}
	}()
	return out
}

// Learn blocks until Start's attempt finishes.
func (l *Learner) Learn(ctx context.Context, page browser.Page, t Target) (LearnResult, error) {
	select {
	case o := <-l.Start(ctx, page, t):
		return o.Result, o.Err
	case <-ctx.Done():
		return LearnResult{}, ctx.Err()
	}
}
