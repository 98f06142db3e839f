// Package browser hides the browser driver behind the small Page and Element
// surface the selector resolver and the ticket workflow need.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ticketbot/internal/config"
)

var (
	// ErrPageClosed is returned when an operation targets a closed tab.
	ErrPageClosed = errors.New("page has been closed")
	// ErrDetached is returned when an element is no longer part of the document.
	ErrDetached = errors.New("element is detached from the document")
)

// XPathPrefix marks a selector as XPath rather than CSS.
const XPathPrefix = "xpath="

// IsXPath reports whether selector is an XPath selector.
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, XPathPrefix)
}

// Box is an element's bounding box in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b Box) Area() float64 { return b.Width * b.Height }

// Center returns the middle point of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// ElementInfo is a point-in-time snapshot of an element.
type ElementInfo struct {
	Tag         string `json:"tag"`
	Text        string `json:"text"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder"`
	Class       string `json:"class"`
	Label       string `json:"label"`
	AriaLabel   string `json:"ariaLabel"`
	Value       string `json:"value"`
	Displayed   bool   `json:"displayed"`
	InViewport  bool   `json:"inViewport"`
	Box         *Box   `json:"box"`
}

// Actionable reports whether the element can be interacted with: it must be
// displayed and either intersect the viewport or have a non-empty box.
// A zero-size element counts only when it intersects the viewport.
func (i ElementInfo) Actionable() bool {
	if !i.Displayed {
		return false
	}
	if i.InViewport {
		return true
	}
	return i.Box != nil && i.Box.Area() > 0
}

// Element is a handle to a DOM element.
type Element interface {
	Info(ctx context.Context) (ElementInfo, error)
	// Click performs a native, trusted click.
	Click(ctx context.Context) error
	// DispatchClick calls element.click() from script.
	DispatchClick(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	BoundingBox(ctx context.Context) (*Box, error)
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	SelectOption(ctx context.Context, label string) error
	Value(ctx context.Context) (string, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Parent(ctx context.Context) (Element, error)
}

// Page is one browser tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL() string
	// QueryAll returns every element matching a CSS or xpath= selector in
	// document order. No match is not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	ClickAt(ctx context.Context, x, y float64) error
	// Press sends a key or chord such as "Enter" or "Control+A".
	Press(ctx context.Context, key string) error
	// Evaluate runs a page script of the form (arg) => value.
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	// ArmClickCapture installs a one-shot listener that records a CSS path
	// for the next click. closest widens the clicked node to its nearest
	// ancestor matching that selector.
	ArmClickCapture(ctx context.Context, closest string) error
	// CapturedSelector returns and clears the recorded path, or "".
	CapturedSelector(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error
	BringToFront(ctx context.Context) error
	WaitReady(ctx context.Context) error
	IsClosed() bool
	Close() error
}

// Launcher owns one browser process and hands out independent tabs.
type Launcher interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// First returns the first element matching selector, or nil.
func First(ctx context.Context, p Page, selector string) (Element, error) {
	els, err := p.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// FirstActionable returns the first actionable element matching selector,
// or nil when none is.
func FirstActionable(ctx context.Context, p Page, selector string) (Element, error) {
	els, err := p.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		info, err := el.Info(ctx)
		if err != nil {
			continue
		}
		if info.Actionable() {
			return el, nil
		}
	}
	return nil, nil
}

// AnyActionable reports whether any of selectors matches an actionable element.
func AnyActionable(ctx context.Context, p Page, selectors ...string) bool {
	for _, sel := range selectors {
		if el, err := FirstActionable(ctx, p, sel); err == nil && el != nil {
			return true
		}
	}
	return false
}

// NewLauncher returns a launcher for the configured driver. The browser is
// started on the first NewPage call.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) (Launcher, error) {
	switch cfg.Driver {
	case config.DriverPlaywright, "":
		return NewPlaywrightLauncher(cfg, logger), nil
	case config.DriverRod:
		return NewRodLauncher(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
