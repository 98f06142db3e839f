// Package resolver finds UI elements through a fallback chain: configured
// selectors, visible text, form structure and, as a last resort, a person
// clicking the element in a visible browser.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/config"
	"ticketbot/internal/wait"
)

var (
	// ErrNotFound is returned by a tier that found no candidate.
	ErrNotFound = errors.New("no matching element")
	// ErrUnresolved is wrapped by UnresolvedError when every tier failed.
	ErrUnresolved = errors.New("target could not be resolved")
	// ErrLearnTimeout is returned when nobody clicked the element in time.
	ErrLearnTimeout = errors.New("timed out waiting for a manual click")

	errNotLearnable = errors.New("target is not learnable")
)

// UnresolvedError carries the per-tier causes of a failed resolution.
type UnresolvedError struct {
	Target string
	Causes []error
}

func (e *UnresolvedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("could not resolve %q: %s", e.Target, strings.Join(parts, "; "))
}

func (e *UnresolvedError) Unwrap() []error {
	return append([]error{ErrUnresolved}, e.Causes...)
}

// Match is a resolved element and the tier that found it.
type Match struct {
	Element browser.Element
	Tier    string
}

// Chain runs tiers in order and stops at the first success.
type Chain struct {
	tiers  []Tier
	logger *zap.Logger
}

func NewChain(logger *zap.Logger, tiers ...Tier) *Chain {
	return &Chain{tiers: tiers, logger: logger}
}

// Resolve returns the first element a tier finds. Tier failures are logged
// and collected; a closed page or a cancelled context stops the chain.
func (c *Chain) Resolve(ctx context.Context, page browser.Page, t Target) (Match, error) {
	var causes []error
	for _, tier := range c.tiers {
		el, err := tier.Resolve(ctx, page, t)
		if err == nil && el != nil {
			c.logger.Debug("Resolved target", zap.String("target", t.Name), zap.String("tier", tier.Name))
			return Match{Element: el, Tier: tier.Name}, nil
		}
		if err == nil {
			err = ErrNotFound
		}
		if fatal(ctx, err) {
			return Match{}, err
		}
		c.logger.Debug("Tier did not resolve target",
			zap.String("target", t.Name),
			zap.String("tier", tier.Name),
			zap.Error(err))
		causes = append(causes, fmt.Errorf("%s: %w", tier.Name, err))
	}
	return Match{}, &UnresolvedError{Target: t.Name, Causes: causes}
}

// Options configures a Resolver.
type Options struct {
	// Learn enables the human-assisted tier. It only makes sense with a
	// visible browser.
	Learn        bool
	LearnTimeout time.Duration
	PollInterval time.Duration
}

// Resolver resolves catalog targets for one session.
type Resolver struct {
	catalog config.Catalog
	memory  *Memory
	probe   *Chain
	full    *Chain
	opts    Options
	logger  *zap.Logger
}

// New builds a resolver over catalog. Learned selectors go into memory,
// which may be shared by the resolvers of one session.
func New(catalog config.Catalog, memory *Memory, opts Options, logger *zap.Logger) *Resolver {
	if memory == nil {
		memory = NewMemory()
	}
	logger = logger.Named("resolver")
	quick := []Tier{StaticTier(memory), TextTier(), StructuralTier()}
	full := quick
	if opts.Learn {
		learner := NewLearner(opts.LearnTimeout, opts.PollInterval, logger)
		full = append(append([]Tier(nil), quick...), LearnTier(learner, memory))
	}
	return &Resolver{
		catalog: catalog,
		memory:  memory,
		probe:   NewChain(logger, quick...),
		full:    NewChain(logger, full...),
		opts:    opts,
		logger:  logger,
	}
}

// Target returns the catalog target called name.
func (r *Resolver) Target(name string) Target {
	return FromSpec(name, r.catalog.Lookup(name))
}

func (r *Resolver) Memory() *Memory { return r.memory }

// Resolve runs the whole chain, including learning when it is enabled.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, t Target) (Match, error) {
	return r.full.Resolve(ctx, page, t)
}

// Find resolves the catalog target called name.
func (r *Resolver) Find(ctx context.Context, page browser.Page, name string) (Match, error) {
	return r.Resolve(ctx, page, r.Target(name))
}

// Probe runs the chain without asking a person.
func (r *Resolver) Probe(ctx context.Context, page browser.Page, t Target) (Match, error) {
	return r.probe.Resolve(ctx, page, t)
}

// Await probes t until it resolves or timeout elapses.
func (r *Resolver) Await(ctx context.Context, page browser.Page, t Target, timeout time.Duration) (Match, error) {
	var m Match
	var last error
	err := wait.Until(ctx, timeout, r.opts.PollInterval, func(ctx context.Context) (bool, error) {
		found, err := r.Probe(ctx, page, t)
		if err != nil {
			if fatal(ctx, err) {
				return false, err
			}
			last = err
			return false, nil
		}
		m = found
		return true, nil
	})
	if errors.Is(err, wait.ErrTimeout) && last != nil {
		return Match{}, fmt.Errorf("%w: %w", err, last)
	}
	return m, err
}
