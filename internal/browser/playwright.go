package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"ticketbot/internal/config"
)

// Common install locations tried when no executable is configured.
var chromeCandidates = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/bin/google-chrome",
}

// actionTimeout bounds single driver actions such as a native click.
const actionTimeout = 5 * time.Second

// ResolveExecutable returns the configured path, else the first existing
// candidate, else "" to use the driver's bundled browser.
func ResolveExecutable(configured string) string {
	if configured != "" {
		return configured
	}
	for _, p := range chromeCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// PlaywrightLauncher starts Chromium through playwright-go on first use.
// Each page gets its own browser context so sessions do not share cookies.
type PlaywrightLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	once     sync.Once
	startErr error
	pw       *pw.Playwright
	browser  pw.Browser
}

func NewPlaywrightLauncher(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: cfg, logger: logger.Named("playwright")}
}

func (l *PlaywrightLauncher) start() error {
	l.once.Do(func() {
		if !l.cfg.SkipInstall {
			l.logger.Info("Installing Playwright Chromium (one-time setup)")
			if err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}}); err != nil {
				l.logger.Warn("Playwright installation warning, continuing", zap.Error(err))
			}
		}

		runner, err := pw.Run()
		if err != nil {
			l.startErr = fmt.Errorf("failed to start Playwright: %w", err)
			return
		}

		opts := pw.BrowserTypeLaunchOptions{
			Headless: pw.Bool(l.cfg.Headless),
			Args: []string{
				"--no-sandbox",
				"--disable-setuid-sandbox",
				"--disable-dev-shm-usage",
				"--no-first-run",
				"--start-maximized",
			},
		}
		if l.cfg.SlowMo > 0 {
			opts.SlowMo = pw.Float(float64(l.cfg.SlowMo.Milliseconds()))
		}
		if exe := ResolveExecutable(l.cfg.ExecutablePath); exe != "" {
			opts.ExecutablePath = pw.String(exe)
			l.logger.Info("Using browser executable", zap.String("path", exe))
		}

		b, err := runner.Chromium.Launch(opts)
		if err != nil {
			_ = runner.Stop()
			l.startErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		l.pw = runner
		l.browser = b
		l.logger.Info("Browser launched", zap.Bool("headless", l.cfg.Headless))
	})
	return l.startErr
}

func (l *PlaywrightLauncher) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.start(); err != nil {
		return nil, err
	}

	opts := pw.BrowserNewContextOptions{}
	if l.cfg.UserAgent != "" {
		opts.UserAgent = pw.String(l.cfg.UserAgent)
	}
	if l.cfg.ViewportWidth > 0 && l.cfg.ViewportHeight > 0 {
		opts.Viewport = &pw.Size{Width: l.cfg.ViewportWidth, Height: l.cfg.ViewportHeight}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{bctx: bctx, page: page}, nil
}

func (l *PlaywrightLauncher) Close() error {
	var errs []error
	if l.browser != nil {
		errs = append(errs, l.browser.Close())
	}
	if l.pw != nil {
		errs = append(errs, l.pw.Stop())
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	bctx pw.BrowserContext
	page pw.Page
}

func (p *playwrightPage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.page.IsClosed() {
		return ErrPageClosed
	}
	return nil
}

func (p *playwrightPage) Goto(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	_, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(timeoutMillis(ctx, 60*time.Second)),
	})
	return err
}

func (p *playwrightPage) Reload(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	_, err := p.page.Reload(pw.PageReloadOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(timeoutMillis(ctx, 10*time.Second)),
	})
	return err
}

func (p *playwrightPage) URL() string {
	if p.page.IsClosed() {
		return ""
	}
	return p.page.URL()
}

func (p *playwrightPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	return wrapHandles(p, handles), nil
}

func (p *playwrightPage) ClickAt(ctx context.Context, x, y float64) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return p.page.Mouse().Click(x, y, pw.MouseClickOptions{Delay: pw.Float(20)})
}

func (p *playwrightPage) Press(ctx context.Context, key string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return p.page.Keyboard().Press(key)
}

func (p *playwrightPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	return p.page.Evaluate(script, arg)
}

func (p *playwrightPage) ArmClickCapture(ctx context.Context, closest string) error {
	_, err := p.Evaluate(ctx, armClickCaptureScript, closest)
	return err
}

func (p *playwrightPage) CapturedSelector(ctx context.Context) (string, error) {
	v, err := p.Evaluate(ctx, readClickCaptureScript, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *playwrightPage) Screenshot(ctx context.Context, path string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	_, err := p.page.Screenshot(pw.PageScreenshotOptions{
		Path:     pw.String(path),
		FullPage: pw.Bool(true),
	})
	return err
}

func (p *playwrightPage) BringToFront(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return p.page.BringToFront()
}

func (p *playwrightPage) WaitReady(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	return p.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   pw.LoadStateDomcontentloaded,
		Timeout: pw.Float(timeoutMillis(ctx, 15*time.Second)),
	})
}

func (p *playwrightPage) IsClosed() bool {
	return p.page.IsClosed()
}

func (p *playwrightPage) Close() error {
	var errs []error
	if !p.page.IsClosed() {
		errs = append(errs, p.page.Close())
	}
	errs = append(errs, p.bctx.Close())
	return errors.Join(errs...)
}

type playwrightElement struct {
	page   *playwrightPage
	handle pw.ElementHandle
}

func wrapHandles(p *playwrightPage, handles []pw.ElementHandle) []Element {
	out := make([]Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &playwrightElement{page: p, handle: h})
	}
	return out
}

func (e *playwrightElement) eval(ctx context.Context, script string, arg any) (any, error) {
	if err := e.page.check(ctx); err != nil {
		return nil, err
	}
	return e.handle.Evaluate(script, arg)
}

func (e *playwrightElement) Info(ctx context.Context) (ElementInfo, error) {
	v, err := e.eval(ctx, describeElementScript, nil)
	if err != nil {
		return ElementInfo{}, err
	}
	return decodeInfo(v)
}

func (e *playwrightElement) Click(ctx context.Context) error {
	if err := e.page.check(ctx); err != nil {
		return err
	}
	return e.handle.Click(pw.ElementHandleClickOptions{
		Delay:   pw.Float(20),
		Timeout: pw.Float(timeoutMillis(ctx, actionTimeout)),
	})
}

func (e *playwrightElement) DispatchClick(ctx context.Context) error {
	_, err := e.eval(ctx, dispatchClickScript, nil)
	return err
}

func (e *playwrightElement) ScrollIntoView(ctx context.Context) error {
	_, err := e.eval(ctx, scrollIntoViewScript, nil)
	return err
}

func (e *playwrightElement) BoundingBox(ctx context.Context) (*Box, error) {
	if err := e.page.check(ctx); err != nil {
		return nil, err
	}
	r, err := e.handle.BoundingBox()
	if err != nil || r == nil {
		return nil, err
	}
	return &Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

func (e *playwrightElement) Clear(ctx context.Context) error {
	_, err := e.eval(ctx, clearValueScript, nil)
	return err
}

func (e *playwrightElement) Type(ctx context.Context, text string) error {
	if err := e.page.check(ctx); err != nil {
		return err
	}
	return e.handle.Type(text, pw.ElementHandleTypeOptions{Delay: pw.Float(30)})
}

func (e *playwrightElement) SelectOption(ctx context.Context, label string) error {
	v, err := e.eval(ctx, selectOptionScript, label)
	if err != nil {
		return err
	}
	if ok, _ := v.(bool); !ok {
		return fmt.Errorf("option %q not found", label)
	}
	return nil
}

func (e *playwrightElement) Value(ctx context.Context) (string, error) {
	v, err := e.eval(ctx, valueScript, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *playwrightElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := e.page.check(ctx); err != nil {
		return nil, err
	}
	handles, err := e.handle.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	return wrapHandles(e.page, handles), nil
}

func (e *playwrightElement) Parent(ctx context.Context) (Element, error) {
	if err := e.page.check(ctx); err != nil {
		return nil, err
	}
	h, err := e.handle.EvaluateHandle(`(el) => el.parentElement`)
	if err != nil {
		return nil, err
	}
	parent := h.AsElement()
	if parent == nil {
		return nil, nil
	}
	return &playwrightElement{page: e.page, handle: parent}, nil
}

// decodeInfo converts a driver evaluation result into ElementInfo.
func decodeInfo(v any) (ElementInfo, error) {
	var info ElementInfo
	raw, err := json.Marshal(v)
	if err != nil {
		return info, err
	}
	if string(raw) == "null" {
		return info, ErrDetached
	}
	err = json.Unmarshal(raw, &info)
	return info, err
}

// timeoutMillis returns the time left on ctx capped at def, in milliseconds.
func timeoutMillis(ctx context.Context, def time.Duration) float64 {
	d := def
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds())
}
