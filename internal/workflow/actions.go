package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/resolver"
	"ticketbot/internal/wait"
)

// fatal reports errors after which no further page interaction can succeed.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, browser.ErrPageClosed)
}

// click tries a native click, then a mouse click at the element's centre,
// then a script click.
func (c *Controller) click(ctx context.Context, el browser.Element) error {
	if err := el.ScrollIntoView(ctx); err != nil && fatal(ctx, err) {
		return err
	}
	err := el.Click(ctx)
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	errs := []error{fmt.Errorf("native: %w", err)}
	c.logger.Debug("Native click failed", zap.Error(err))

	if box, berr := el.BoundingBox(ctx); berr == nil && box != nil && box.Area() > 0 {
		x, y := box.Center()
		if err = c.page.ClickAt(ctx, x, y); err == nil {
			return nil
		}
		if fatal(ctx, err) {
			return err
		}
		errs = append(errs, fmt.Errorf("mouse: %w", err))
		c.logger.Debug("Mouse click failed", zap.Error(err))
	}

	if err = el.DispatchClick(ctx); err == nil {
		return nil
	}
	errs = append(errs, fmt.Errorf("script: %w", err))
	return fmt.Errorf("all click strategies failed: %w", errors.Join(errs...))
}

// locate polls for t without help first and falls back to the full chain,
// which may ask a person to click the element.
func (c *Controller) locate(ctx context.Context, t resolver.Target) (browser.Element, error) {
	m, err := c.res.Await(ctx, c.page, t, c.opts.Timings.StepTimeout)
	if err == nil {
		return m.Element, nil
	}
	if fatal(ctx, err) {
		return nil, err
	}
	m, err = c.res.Resolve(ctx, c.page, t)
	if err != nil {
		return nil, err
	}
	return m.Element, nil
}

// clickTarget locates t and clicks it.
func (c *Controller) clickTarget(ctx context.Context, t resolver.Target) error {
	el, err := c.locate(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", t.Name, err)
	}
	if err := c.click(ctx, el); err != nil {
		return fmt.Errorf("failed to click %s: %w", t.Name, err)
	}
	return nil
}

// present reports whether the named target currently resolves without help.
func (c *Controller) present(ctx context.Context, name string) bool {
	_, err := c.res.Probe(ctx, c.page, c.res.Target(name))
	return err == nil
}

// awaitAny waits until one of the named targets is present and returns it.
func (c *Controller) awaitAny(ctx context.Context, timeout time.Duration, names ...string) (string, error) {
	var found string
	err := wait.Until(ctx, timeout, c.poll(), func(ctx context.Context) (bool, error) {
		for _, name := range names {
			if c.present(ctx, name) {
				found = name
				return true, nil
			}
		}
		if c.page.IsClosed() {
			return false, browser.ErrPageClosed
		}
		return false, nil
	})
	return found, err
}

// textOf returns the visible text of the named target, or "".
func (c *Controller) textOf(ctx context.Context, name string) string {
	m, err := c.res.Probe(ctx, c.page, c.res.Target(name))
	if err != nil {
		return ""
	}
	info, err := m.Element.Info(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(info.Text)
}

// clearAndType replaces a field's value and checks it stuck, retrying once.
func (c *Controller) clearAndType(ctx context.Context, name string, el browser.Element, value string) error {
	if err := c.click(ctx, el); err != nil {
		if fatal(ctx, err) {
			return err
		}
		c.logger.Debug("Could not focus field", zap.String("field", name), zap.Error(err))
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if err := el.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear %s: %w", name, err)
		}
		if err := el.Type(ctx, value); err != nil {
			return fmt.Errorf("failed to type into %s: %w", name, err)
		}
		got, err := el.Value(ctx)
		if err == nil && got == value {
			return nil
		}
		c.logger.Debug("Field value mismatch", zap.String("field", name), zap.Int("attempt", attempt))
	}
	c.logger.Warn("Could not verify field value", zap.String("field", name))
	return nil
}

// fillTarget locates the named field and types value into it.
func (c *Controller) fillTarget(ctx context.Context, name, value string) error {
	el, err := c.locate(ctx, c.res.Target(name))
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", name, err)
	}
	return c.clearAndType(ctx, name, el, value)
}

// setFieldValue fills a select or an autocomplete field. Autocomplete
// fields are typed into and the best dropdown option is clicked.
func (c *Controller) setFieldValue(ctx context.Context, name, value string) error {
	el, err := c.locate(ctx, c.res.Target(name))
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", name, err)
	}
	info, err := el.Info(ctx)
	if err != nil {
		return err
	}
	if info.Tag == "select" {
		if err := el.SelectOption(ctx, value); err != nil {
			return fmt.Errorf("failed to select %q in %s: %w", value, name, err)
		}
		return nil
	}

	if err := c.click(ctx, el); err != nil && fatal(ctx, err) {
		return err
	}
	if err := el.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear %s: %w", name, err)
	}
	if err := el.Type(ctx, value); err != nil {
		return fmt.Errorf("failed to type into %s: %w", name, err)
	}
	if err := c.chooseOption(ctx, value); err != nil {
		return fmt.Errorf("failed to choose %q for %s: %w", value, name, err)
	}

	if got, err := el.Value(ctx); err == nil && !strings.EqualFold(strings.TrimSpace(got), value) {
		c.logger.Warn("Field shows a different value than requested",
			zap.String("field", name), zap.String("want", value), zap.String("got", got))
	}
	return nil
}

// chooseOption clicks the dropdown option for value, preferring an exact
// match. Without any option it accepts the first suggestion from the keyboard.
func (c *Controller) chooseOption(ctx context.Context, value string) error {
	t := c.res.Target("dropdown_option").WithText(value)
	m, err := c.res.Await(ctx, c.page, t, c.opts.Timings.StepTimeout)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		c.logger.Warn("No dropdown option appeared, accepting the first suggestion", zap.String("value", value))
		if err := c.page.Press(ctx, "ArrowDown"); err != nil {
			return err
		}
		return c.page.Press(ctx, "Enter")
	}
	if err := c.click(ctx, m.Element); err != nil {
		return err
	}
	c.settle(ctx)
	return nil
}
