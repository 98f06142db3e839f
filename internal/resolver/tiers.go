package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ticketbot/internal/browser"
)

// TierFunc finds an element for a target or explains why it could not.
type TierFunc func(ctx context.Context, page browser.Page, t Target) (browser.Element, error)

// Tier is one named step of the resolution chain.
type Tier struct {
	Name    string
	Resolve TierFunc
}

const (
	TierStatic     = "static"
	TierText       = "text"
	TierStructural = "structural"
	TierLearn      = "learn"
)

// StaticTier tries learned selectors from memory first, then the target's
// configured selectors, and returns the first actionable match.
func StaticTier(mem *Memory) Tier {
	return Tier{Name: TierStatic, Resolve: func(ctx context.Context, page browser.Page, t Target) (browser.Element, error) {
		var selectors []string
		if mem != nil {
			selectors = append(selectors, mem.Get(t.Name)...)
		}
		selectors = append(selectors, t.Selectors...)
		if len(selectors) == 0 {
			return nil, fmt.Errorf("%w: no selectors", ErrNotFound)
		}
		var invalid []error
		for _, sel := range selectors {
			el, err := browser.FirstActionable(ctx, page, sel)
			if err != nil {
				if fatal(ctx, err) {
					return nil, err
				}
				invalid = append(invalid, fmt.Errorf("selector %q: %w", sel, err))
				continue
			}
			if el != nil {
				return el, nil
			}
		}
		return nil, errors.Join(append([]error{fmt.Errorf("%w: none of %d selectors matched", ErrNotFound, len(selectors))}, invalid...)...)
	}}
}

// TextTier scans the target's scope for elements whose visible text matches
// a phrase. An exact match anywhere beats a partial one; ties go to document
// order.
func TextTier() Tier {
	return Tier{Name: TierText, Resolve: func(ctx context.Context, page browser.Page, t Target) (browser.Element, error) {
		phrases := lowerAll(t.Text)
		if len(phrases) == 0 {
			return nil, fmt.Errorf("%w: no text phrases", ErrNotFound)
		}
		scope := t.Scope
		if scope == "" {
			scope = defaultTextScope
		}
		els, err := page.QueryAll(ctx, scope)
		if err != nil {
			return nil, err
		}
		exclude := lowerAll(t.Exclude)

		var partial browser.Element
		for _, el := range els {
			info, err := el.Info(ctx)
			if err != nil {
				if fatal(ctx, err) {
					return nil, err
				}
				continue
			}
			if !info.Actionable() || excluded(info, exclude) {
				continue
			}
			text := visibleText(info)
			if text == "" {
				continue
			}
			for _, p := range phrases {
				if text == p {
					return el, nil
				}
				if partial == nil && strings.Contains(text, p) {
					partial = el
				}
			}
		}
		if partial != nil {
			return partial, nil
		}
		return nil, fmt.Errorf("%w: no element in %q with text %q", ErrNotFound, scope, phrases)
	}}
}

// StructuralTier matches form controls by label, aria-label, placeholder,
// name, id or type, and controls sitting beside an anchor element.
func StructuralTier() Tier {
	return Tier{Name: TierStructural, Resolve: func(ctx context.Context, page browser.Page, t Target) (browser.Element, error) {
		switch {
		case len(t.Fields) > 0:
			return byField(ctx, page, t)
		case t.Anchor != "":
			return nearAnchor(ctx, page, t)
		default:
			return nil, fmt.Errorf("%w: no field or anchor hints", ErrNotFound)
		}
	}}
}

func byField(ctx context.Context, page browser.Page, t Target) (browser.Element, error) {
	els, err := page.QueryAll(ctx, fieldScope)
	if err != nil {
		return nil, err
	}
	fields := lowerAll(t.Fields)
	exclude := lowerAll(t.Exclude)

	var best browser.Element
	bestScore := 0
	for _, el := range els {
		info, err := el.Info(ctx)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			continue
		}
		if !info.Actionable() || excluded(info, exclude) {
			continue
		}
		if score := fieldScore(info, fields); score > bestScore {
			best, bestScore = el, score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no control labelled %q", ErrNotFound, fields)
	}
	return best, nil
}

// fieldScore ranks how well a control matches the field phrases: an exact
// label scores 3, a label containing the phrase 2, and any other attribute
// containing it 1.
func fieldScore(info browser.ElementInfo, fields []string) int {
	label := normalizeText(info.Label)
	attrs := []string{
		strings.ToLower(info.AriaLabel),
		strings.ToLower(info.Placeholder),
		strings.ToLower(info.Name),
		strings.ToLower(info.ID),
		strings.ToLower(info.Type),
	}
	best := 0
	for _, f := range fields {
		score := 0
		switch {
		case label != "" && label == f:
			score = 3
		case label != "" && strings.Contains(label, f):
			score = 2
		default:
			for _, a := range attrs {
				if a != "" && strings.Contains(a, f) {
					score = 1
					break
				}
			}
		}
		if score > best {
			best = score
		}
	}
	return best
}

func nearAnchor(ctx context.Context, page browser.Page, t Target) (browser.Element, error) {
	scope := t.AnchorScope
	if scope == "" {
		scope = defaultTextScope
	}
	near := t.Near
	if near == "" {
		near = defaultNear
	}
	anchorText := normalizeText(t.Anchor)
	phrases := lowerAll(t.Text)

	anchors, err := page.QueryAll(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, anchor := range anchors {
		info, err := anchor.Info(ctx)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			continue
		}
		if !info.Displayed || visibleText(info) != anchorText {
			continue
		}
		parent, err := anchor.Parent(ctx)
		if err != nil || parent == nil {
			continue
		}
		candidates, err := parent.QueryAll(ctx, near)
		if err != nil {
			continue
		}
		for _, c := range candidates {
			ci, err := c.Info(ctx)
			if err != nil || !ci.Actionable() {
				continue
			}
			text := visibleText(ci)
			if text == anchorText {
				continue
			}
			if len(phrases) > 0 && !containsAny(text, phrases) {
				continue
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: nothing near %q", ErrNotFound, t.Anchor)
}

// LearnTier asks a person to click the element, then resolves the recorded
// path and remembers it for the rest of the session.
func LearnTier(l *Learner, mem *Memory) Tier {
	return Tier{Name: TierLearn, Resolve: func(ctx context.Context, page browser.Page, t Target) (browser.Element, error) {
		if !t.Learnable {
			return nil, errNotLearnable
		}
		res, err := l.Learn(ctx, page, t)
		if err != nil {
			return nil, err
		}
		if res.TimedOut {
			return nil, fmt.Errorf("%w after %s", ErrLearnTimeout, l.timeout)
		}
		el, err := browser.First(ctx, page, res.Selector)
		if err != nil {
			return nil, err
		}
		if el == nil {
			return nil, fmt.Errorf("%w: learned selector %q matches nothing", ErrNotFound, res.Selector)
		}
		if mem != nil {
			mem.Put(t.Name, res.Selector)
		}
		return el, nil
	}}
}

// visibleText is what a person would read on the element.
func visibleText(info browser.ElementInfo) string {
	for _, s := range []string{info.Text, info.AriaLabel, info.Value} {
		if s = normalizeText(s); s != "" {
			return s
		}
	}
	return ""
}

func excluded(info browser.ElementInfo, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	attrs := []string{
		normalizeText(info.Label),
		strings.ToLower(info.AriaLabel),
		strings.ToLower(info.Placeholder),
		strings.ToLower(info.Name),
		strings.ToLower(info.ID),
	}
	for _, a := range attrs {
		if a != "" && containsAny(a, terms) {
			return true
		}
	}
	return false
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// fatal reports errors that make every further lookup pointless.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, browser.ErrPageClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
