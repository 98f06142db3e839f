package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/wait"
)

func (c *Controller) login(ctx context.Context, creds Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return errors.New("email and password are required")
	}
	if err := c.page.Goto(ctx, c.opts.BaseURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", c.opts.BaseURL, err)
	}
	c.settle(ctx)
	if c.present(ctx, "app_shell") {
		c.logger.Info("Already logged in")
		return nil
	}

	if err := c.clickTarget(ctx, c.res.Target("login_trigger")); err != nil {
		return err
	}
	if _, err := c.awaitAny(ctx, c.opts.Timings.StepTimeout, "login_modal", "email"); err != nil {
		if fatal(ctx, err) {
			return err
		}
		c.logger.Warn("Login modal did not open, forcing it")
		if _, err := c.page.Evaluate(ctx, browser.ScriptForceOpenLogin, nil); err != nil && fatal(ctx, err) {
			return err
		}
		if _, err := c.awaitAny(ctx, c.opts.Timings.StepTimeout, "login_modal", "email"); err != nil {
			return fmt.Errorf("login form did not appear: %w", err)
		}
	}
	c.settle(ctx)

	if err := c.fillTarget(ctx, "email", creds.Email); err != nil {
		return err
	}
	if err := c.fillTarget(ctx, "password", creds.Password); err != nil {
		return err
	}
	if err := c.submitLogin(ctx); err != nil {
		return err
	}
	return c.verifyLogin(ctx)
}

// submitLogin clicks the login button, falling back to submitting the form
// from script and finally to pressing Enter.
func (c *Controller) submitLogin(ctx context.Context) error {
	err := c.clickTarget(ctx, c.res.Target("login_button"))
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}
	c.logger.Warn("Login button click failed, submitting the form directly", zap.Error(err))
	v, err := c.page.Evaluate(ctx, browser.ScriptSubmitLoginForm, nil)
	if err == nil {
		if ok, _ := v.(bool); ok {
			return nil
		}
	} else if fatal(ctx, err) {
		return err
	}
	c.logger.Warn("No login form to submit, pressing Enter")
	return c.page.Press(ctx, "Enter")
}

// verifyLogin decides whether the login went through. The app shell means
// success; a login URL or an error banner means failure. When neither shows
// up in time, a login form that is gone counts as success.
func (c *Controller) verifyLogin(ctx context.Context) error {
	var outcome error
	err := wait.Until(ctx, c.opts.Timings.StepTimeout, c.poll(), func(ctx context.Context) (bool, error) {
		if c.page.IsClosed() {
			return false, browser.ErrPageClosed
		}
		if c.present(ctx, "app_shell") {
			return true, nil
		}
		if msg := c.textOf(ctx, "login_error"); msg != "" {
			outcome = fmt.Errorf("login rejected: %s", msg)
			return true, nil
		}
		if isAuthPath(c.page.URL()) {
			outcome = fmt.Errorf("still on login page %s", c.page.URL())
			return true, nil
		}
		return false, nil
	})
	switch {
	case errors.Is(err, wait.ErrTimeout):
		if c.present(ctx, "login_form") {
			return errors.New("login did not complete: the login form is still visible")
		}
		c.logger.Warn("App shell not detected, assuming login succeeded because the form is gone",
			zap.String("url", c.page.URL()))
		return nil
	case err != nil:
		return err
	case outcome != nil:
		return outcome
	}
	c.logger.Info("Login successful", zap.String("url", c.page.URL()))
	return nil
}

func isAuthPath(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.Contains(path, "login") || strings.Contains(path, "auth")
}

func (c *Controller) navigate(ctx context.Context) error {
	if strings.Contains(c.page.URL(), "#loginPopup") {
		c.logger.Info("Reloading to drop the login popup hash")
		if err := c.page.Reload(ctx); err != nil {
			return fmt.Errorf("failed to reload: %w", err)
		}
		c.settle(ctx)
	}

	if err := c.clickTarget(ctx, c.res.Target("app_menu")); err != nil {
		return err
	}
	c.settle(ctx)
	if err := c.clickTarget(ctx, c.res.Target("project_link")); err != nil {
		return err
	}
	c.settle(ctx)
	if err := c.page.WaitReady(ctx); err != nil && fatal(ctx, err) {
		return err
	}

	card := c.res.Target("project_card").WithText(c.opts.Project)
	if err := c.clickTarget(ctx, card); err != nil {
		return err
	}
	c.settle(ctx)

	opened := c.res.Target("project_opened")
	if _, err := c.res.Await(ctx, c.page, opened, c.opts.Timings.StepTimeout); err == nil {
		c.logger.Info("Project opened", zap.String("project", c.opts.Project))
		return nil
	} else if fatal(ctx, err) {
		return err
	}

	c.logger.Warn("Project did not open, waiting for manual navigation",
		zap.String("project", c.opts.Project),
		zap.Duration("timeout", c.opts.Timings.ManualNavWait))
	if err := c.page.BringToFront(ctx); err != nil && fatal(ctx, err) {
		return err
	}
	if _, err := c.res.Await(ctx, c.page, opened, c.opts.Timings.ManualNavWait); err != nil {
		return fmt.Errorf("project %q did not open: %w", c.opts.Project, err)
	}
	return nil
}

func (c *Controller) create(ctx context.Context) error {
	if err := c.clickTarget(ctx, c.res.Target("create_button")); err != nil {
		return err
	}
	c.settle(ctx)
	if _, err := c.res.Await(ctx, c.page, c.res.Target("quick_create_form"), c.opts.Timings.StepTimeout); err != nil {
		if fatal(ctx, err) {
			return err
		}
		c.logger.Warn("Quick create form not detected, continuing")
	}
	return nil
}

func (c *Controller) fill(ctx context.Context, t Ticket) error {
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("ticket title is required")
	}
	if err := c.fillTarget(ctx, "title_field", t.Title); err != nil {
		return err
	}
	if t.AssignedTo == "" {
		return nil
	}
	if err := c.setFieldValue(ctx, "ownership_field", t.AssignedTo); err != nil {
		if fatal(ctx, err) {
			return err
		}
		c.logger.Warn("Could not set ownership, continuing", zap.Error(err))
	}
	return nil
}

func (c *Controller) submit(ctx context.Context) error {
	if err := c.clickTarget(ctx, c.res.Target("add_button")); err != nil {
		return err
	}

	gone, err := c.formGone(ctx)
	if err != nil {
		return err
	}
	if !gone {
		if errs := c.formErrors(ctx); len(errs) > 0 {
			return fmt.Errorf("form rejected the ticket: %s", strings.Join(errs, "; "))
		}
		c.logger.Warn("Quick create form still open, clicking Add from script")
		if _, err := c.page.Evaluate(ctx, browser.ScriptClickQuickCreateAdd, nil); err != nil && fatal(ctx, err) {
			return err
		}
		if gone, err = c.formGone(ctx); err != nil {
			return err
		}
		if !gone {
			c.logger.Warn("Quick create form is still open, continuing")
		}
	}

	if msg := c.textOf(ctx, "success_message"); msg != "" {
		c.logger.Info("Success message", zap.String("message", msg))
	}
	if id := strings.TrimPrefix(c.textOf(ctx, "ticket_id"), "#"); id != "" {
		c.mu.Lock()
		c.ticketID = id
		c.mu.Unlock()
		c.logger.Info("Ticket id captured", zap.String("ticket_id", id))
	}
	return nil
}

// formGone waits up to the submit verification bound for the quick create
// form to close.
func (c *Controller) formGone(ctx context.Context) (bool, error) {
	err := wait.Until(ctx, c.opts.Timings.SubmitVerify, c.poll(), func(ctx context.Context) (bool, error) {
		if c.page.IsClosed() {
			return false, browser.ErrPageClosed
		}
		return !c.present(ctx, "quick_create_form"), nil
	})
	if errors.Is(err, wait.ErrTimeout) {
		return false, nil
	}
	return err == nil, err
}

// formErrors returns the text of every visible form error.
func (c *Controller) formErrors(ctx context.Context) []string {
	var out []string
	for _, sel := range c.res.Target("form_error").Selectors {
		els, err := c.page.QueryAll(ctx, sel)
		if err != nil {
			continue
		}
		for _, el := range els {
			info, err := el.Info(ctx)
			if err != nil || !info.Actionable() {
				continue
			}
			if text := strings.TrimSpace(info.Text); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}

func (c *Controller) discard(ctx context.Context) error {
	m, err := c.res.Probe(ctx, c.page, c.res.Target("discard_button"))
	if err == nil {
		if err := c.click(ctx, m.Element); err == nil {
			c.logger.Info("Closed the quick create form")
			c.settle(ctx)
			return nil
		} else if fatal(ctx, err) {
			return err
		}
	} else if fatal(ctx, err) {
		return err
	}
	c.logger.Info("No discard button, pressing Escape")
	if err := c.page.Press(ctx, "Escape"); err != nil && fatal(ctx, err) {
		return err
	}
	c.settle(ctx)
	return nil
}

func (c *Controller) open(ctx context.Context, t Ticket) error {
	card := c.res.Target("ticket_card").WithText(t.Title)
	m, err := c.res.Await(ctx, c.page, card, c.opts.Timings.StepTimeout)
	var el browser.Element
	switch {
	case err == nil:
		el = m.Element
	case fatal(ctx, err):
		return err
	default:
		c.logger.Warn("No card shows the ticket title, trying the first short card", zap.String("title", t.Title))
		if el, err = c.firstShortCard(ctx, card.Scope); err != nil {
			return err
		}
		if el == nil {
			if m, err = c.res.Resolve(ctx, c.page, card); err != nil {
				return fmt.Errorf("failed to find the ticket card: %w", err)
			}
			el = m.Element
		}
	}
	if err := c.click(ctx, el); err != nil {
		return fmt.Errorf("failed to open the ticket: %w", err)
	}
	c.settle(ctx)
	return c.page.WaitReady(ctx)
}

// firstShortCard returns the first visible card whose text looks like a
// ticket rather than a toolbar or project tile.
func (c *Controller) firstShortCard(ctx context.Context, scope string) (browser.Element, error) {
	if scope == "" {
		return nil, nil
	}
	els, err := c.page.QueryAll(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		info, err := el.Info(ctx)
		if err != nil || !info.Actionable() {
			continue
		}
		text := strings.TrimSpace(info.Text)
		if len(text) > 0 && len(text) < 200 && !strings.Contains(text, "Create") && !strings.Contains(text, "Project") {
			return el, nil
		}
	}
	return nil, nil
}

func (c *Controller) edit(ctx context.Context, t Ticket) error {
	if t.Customer == "" && t.AssignedTo == "" {
		c.logger.Info("No customer or assignee given, skipping edit")
		return nil
	}

	if m, err := c.res.Probe(ctx, c.page, c.res.Target("edit_button")); err == nil {
		if err := c.click(ctx, m.Element); err != nil {
			if fatal(ctx, err) {
				return err
			}
			c.logger.Warn("Edit button click failed, assuming the form is editable", zap.Error(err))
		}
		c.settle(ctx)
	} else if fatal(ctx, err) {
		return err
	}

	if t.Customer != "" {
		if err := c.setFieldValue(ctx, "customer_field", t.Customer); err != nil {
			return err
		}
		c.logger.Info("Customer set", zap.String("customer", t.Customer))
	}
	if t.AssignedTo != "" {
		if err := c.setFieldValue(ctx, "assignee_field", t.AssignedTo); err != nil {
			return err
		}
		c.logger.Info("Assignee set", zap.String("assigned_to", t.AssignedTo))
	}

	m, err := c.res.Probe(ctx, c.page, c.res.Target("save_button"))
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		c.logger.Warn("Save button not found, relying on autosave")
		return nil
	}
	if err := c.click(ctx, m.Element); err != nil {
		return fmt.Errorf("failed to save the ticket: %w", err)
	}
	c.settle(ctx)
	return nil
}
