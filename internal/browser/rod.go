package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"ticketbot/internal/config"
)

// RodLauncher drives Chromium over CDP with go-rod. Each page is opened in
// its own incognito context.
type RodLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	once     sync.Once
	startErr error
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func NewRodLauncher(cfg config.BrowserConfig, logger *zap.Logger) *RodLauncher {
	return &RodLauncher{cfg: cfg, logger: logger.Named("rod")}
}

func (l *RodLauncher) start() error {
	l.once.Do(func() {
		ln := launcher.New().
			Headless(l.cfg.Headless).
			Set("no-sandbox").
			Set("disable-dev-shm-usage").
			Set("start-maximized")
		if exe := ResolveExecutable(l.cfg.ExecutablePath); exe != "" {
			ln = ln.Bin(exe)
			l.logger.Info("Using browser executable", zap.String("path", exe))
		}
		u, err := ln.Launch()
		if err != nil {
			l.startErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		b := rod.New().ControlURL(u)
		if l.cfg.SlowMo > 0 {
			b = b.SlowMotion(l.cfg.SlowMo)
		}
		if err := b.Connect(); err != nil {
			ln.Kill()
			l.startErr = fmt.Errorf("failed to connect to browser: %w", err)
			return
		}
		l.launcher = ln
		l.browser = b
		l.logger.Info("Browser launched", zap.Bool("headless", l.cfg.Headless))
	})
	return l.startErr
}

func (l *RodLauncher) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.start(); err != nil {
		return nil, err
	}
	incognito, err := l.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if l.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: l.cfg.UserAgent}); err != nil {
			l.logger.Warn("Failed to set user agent", zap.Error(err))
		}
	}
	if l.cfg.ViewportWidth > 0 && l.cfg.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             l.cfg.ViewportWidth,
			Height:            l.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			l.logger.Warn("Failed to set viewport", zap.Error(err))
		}
	}
	return &rodPage{page: page}, nil
}

func (l *RodLauncher) Close() error {
	var err error
	if l.browser != nil {
		err = l.browser.Close()
	}
	if l.launcher != nil {
		l.launcher.Kill()
		l.launcher.Cleanup()
	}
	return err
}

type rodPage struct {
	page *rod.Page

	mu     sync.Mutex
	closed bool
}

func (p *rodPage) with(ctx context.Context) (*rod.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.IsClosed() {
		return nil, ErrPageClosed
	}
	return p.page.Context(ctx), nil
}

func (p *rodPage) Goto(ctx context.Context, url string) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) Reload(ctx context.Context) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	return pg.Reload()
}

func (p *rodPage) URL() string {
	if p.IsClosed() {
		return ""
	}
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	pg, err := p.with(ctx)
	if err != nil {
		return nil, err
	}
	var els rod.Elements
	if IsXPath(selector) {
		els, err = pg.ElementsX(strings.TrimPrefix(selector, XPathPrefix))
	} else {
		els, err = pg.Elements(selector)
	}
	if err != nil {
		return nil, err
	}
	return wrapRod(p, els), nil
}

func (p *rodPage) ClickAt(ctx context.Context, x, y float64) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	if err := pg.Mouse.MoveTo(proto.NewPoint(x, y)); err != nil {
		return err
	}
	return pg.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

// rodKeys maps the key names used by the workflow onto rod key codes.
var rodKeys = map[string]input.Key{
	"Enter":     input.Enter,
	"Escape":    input.Escape,
	"ArrowDown": input.ArrowDown,
	"Backspace": input.Backspace,
	"Tab":       input.Tab,
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	if key == "Control+A" {
		return pg.KeyActions().Press(input.ControlLeft).Type(input.KeyA).Do()
	}
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return pg.Keyboard.Type(k)
}

func (p *rodPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	pg, err := p.with(ctx)
	if err != nil {
		return nil, err
	}
	res, err := pg.Eval(script, arg)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (p *rodPage) ArmClickCapture(ctx context.Context, closest string) error {
	_, err := p.Evaluate(ctx, armClickCaptureScript, closest)
	return err
}

func (p *rodPage) CapturedSelector(ctx context.Context) (string, error) {
	v, err := p.Evaluate(ctx, readClickCaptureScript, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *rodPage) Screenshot(ctx context.Context, path string) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	data, err := pg.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *rodPage) BringToFront(ctx context.Context) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	_, err = pg.Activate()
	return err
}

func (p *rodPage) WaitReady(ctx context.Context) error {
	pg, err := p.with(ctx)
	if err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.page.Close()
}

type rodElement struct {
	page *rodPage
	el   *rod.Element
}

func wrapRod(p *rodPage, els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{page: p, el: el})
	}
	return out
}

func (e *rodElement) with(ctx context.Context) (*rod.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.page.IsClosed() {
		return nil, ErrPageClosed
	}
	return e.el.Context(ctx), nil
}

// eval runs an (el, arg) => value script with the element bound.
func (e *rodElement) eval(ctx context.Context, script string, arg any) (any, error) {
	el, err := e.with(ctx)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(`function(arg) { return (`+script+`)(this, arg) }`, arg)
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (e *rodElement) Info(ctx context.Context) (ElementInfo, error) {
	v, err := e.eval(ctx, describeElementScript, nil)
	if err != nil {
		return ElementInfo{}, err
	}
	return decodeInfo(v)
}

func (e *rodElement) Click(ctx context.Context) error {
	el, err := e.with(ctx)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) DispatchClick(ctx context.Context) error {
	_, err := e.eval(ctx, dispatchClickScript, nil)
	return err
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	el, err := e.with(ctx)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

func (e *rodElement) BoundingBox(ctx context.Context) (*Box, error) {
	el, err := e.with(ctx)
	if err != nil {
		return nil, err
	}
	shape, err := el.Shape()
	if err != nil {
		return nil, err
	}
	r := shape.Box()
	if r == nil {
		return nil, nil
	}
	return &Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

func (e *rodElement) Clear(ctx context.Context) error {
	_, err := e.eval(ctx, clearValueScript, nil)
	return err
}

func (e *rodElement) Type(ctx context.Context, text string) error {
	el, err := e.with(ctx)
	if err != nil {
		return err
	}
	return el.Input(text)
}

func (e *rodElement) SelectOption(ctx context.Context, label string) error {
	el, err := e.with(ctx)
	if err != nil {
		return err
	}
	return el.Select([]string{label}, true, rod.SelectorTypeText)
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	v, err := e.eval(ctx, valueScript, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *rodElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	el, err := e.with(ctx)
	if err != nil {
		return nil, err
	}
	var els rod.Elements
	if IsXPath(selector) {
		els, err = el.ElementsX(strings.TrimPrefix(selector, XPathPrefix))
	} else {
		els, err = el.Elements(selector)
	}
	if err != nil {
		return nil, err
	}
	return wrapRod(e.page, els), nil
}

func (e *rodElement) Parent(ctx context.Context) (Element, error) {
	el, err := e.with(ctx)
	if err != nil {
		return nil, err
	}
	parent, err := el.Sleeper(rod.NotFoundSleeper).Parent()
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rodElement{page: e.page, el: parent}, nil
}
