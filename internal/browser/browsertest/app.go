package browsertest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ticketbot/internal/browser"
)

// Ticket is a task created through the fake application.
type Ticket struct {
	ID         int
	Title      string
	Ownership  string
	Customer   string
	AssignedTo string
}

const (
	screenHome     = "home"
	screenDiscuss  = "discuss"
	screenProjects = "projects"
	screenTasks    = "tasks"
	screenTask     = "task"
)

// App is a scripted imitation of the ticketing web application. It renders
// each screen as HTML into a Page and reacts to clicks, typing and keys the
// way the real UI does, closely enough for the workflow to run end to end.
//
// Interactive elements carry a data-action attribute; the click hook walks
// up from the clicked node to the nearest one.
type App struct {
	BaseURL   string
	Email     string
	Password  string
	Projects  []string
	Users     []string
	Customers []string
	// StickyQuickCreate keeps the quick-create form open and empty after a
	// successful Add, as the real kanban does.
	StickyQuickCreate bool

	mu          sync.Mutex
	screen      string
	loggedIn    bool
	modalOpen   bool
	loginError  string
	menuOpen    bool
	project     string
	quickOpen   bool
	quickError  bool
	notice      string
	editing     bool
	current     int
	tickets     []*Ticket
	nextID      int
	loginClicks int
}

// NewApp returns an app that accepts the given credentials.
func NewApp(email, password string) *App {
	return &App{
		BaseURL:           "https://fake.test/",
		Email:             email,
		Password:          password,
		Projects:          []string{"Internal", "Test Support", "Website Redesign"},
		Users:             []string{"Jane Smith", "Jane Doe", "John Roe"},
		Customers:         []string{"Acme Industries", "Acme", "Discount Pipe & Steel"},
		StickyQuickCreate: true,
		screen:            screenHome,
		nextID:            1,
	}
}

// Page returns a new tab wired to the app. The tab starts blank; the
// workflow is expected to navigate to BaseURL.
func (a *App) Page() *Page {
	p := NewPage("<html><body></body></html>")
	p.SetHooks(Hooks{
		OnClick:    a.onClick,
		OnInput:    a.onInput,
		OnKey:      a.onKey,
		OnNavigate: a.onNavigate,
	})
	p.HandleScript(browser.ScriptForceOpenLogin, func(p *Page, _ any) (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.loggedIn {
			return false, nil
		}
		a.modalOpen = true
		a.renderLocked(p)
		return true, nil
	})
	p.HandleScript(browser.ScriptSubmitLoginForm, func(p *Page, _ any) (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.modalOpen {
			return false, nil
		}
		a.submitLoginLocked(p)
		return true, nil
	})
	p.HandleScript(browser.ScriptClickQuickCreateAdd, func(p *Page, _ any) (any, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.quickOpen {
			return false, nil
		}
		a.addLocked(p)
		return true, nil
	})
	return p
}

// Tickets returns a copy of every created ticket, oldest first.
func (a *App) Tickets() []Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Ticket, 0, len(a.tickets))
	for _, t := range a.tickets {
		out = append(out, *t)
	}
	return out
}

// Ticket returns the most recent ticket with the given title.
func (a *App) Ticket(title string) (Ticket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.tickets) - 1; i >= 0; i-- {
		if a.tickets[i].Title == title {
			return *a.tickets[i], true
		}
	}
	return Ticket{}, false
}

// LoginAttempts reports how many times the login form was submitted.
func (a *App) LoginAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginClicks
}

func (a *App) onNavigate(p *Page, raw string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	path := strings.TrimSuffix(u.Path, "/")
	switch {
	case !a.loggedIn:
		a.screen = screenHome
		a.modalOpen = u.Fragment == "loginPopup"
	case path == "/odoo/project":
		a.screen = screenProjects
	case strings.HasPrefix(path, "/odoo/project/") && a.project != "":
		a.screen = screenTasks
	default:
		a.screen = screenDiscuss
	}
	a.menuOpen = false
	a.renderLocked(p)
}

func (a *App) onClick(p *Page, n *html.Node) {
	target := actionNode(n)
	if target == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch attr(target, "data-action") {
	case "login-trigger":
		a.modalOpen = true
		p.SetURL(a.BaseURL + "#loginPopup")
	case "login":
		a.submitLoginLocked(p)
		return
	case "menu":
		a.menuOpen = !a.menuOpen
	case "projects":
		a.menuOpen = false
		a.screen = screenProjects
		p.SetURL(a.BaseURL + "odoo/project")
	case "open-project":
		a.project = attr(target, "data-project")
		a.screen = screenTasks
		a.quickOpen = false
		p.SetURL(a.BaseURL + "odoo/project/" + attr(target, "data-index") + "/tasks")
	case "new":
		a.quickOpen = true
		a.quickError = false
	case "add":
		a.addLocked(p)
		return
	case "discard":
		a.quickOpen = false
		a.quickError = false
	case "open-ticket":
		id, _ := strconv.Atoi(attr(target, "data-id"))
		a.current = id
		a.editing = false
		a.screen = screenTask
		a.quickOpen = false
		p.SetURL(fmt.Sprintf("%sodoo/project/tasks/%d", a.BaseURL, id))
	case "edit":
		a.editing = true
	case "save":
		a.saveLocked(p)
	case "cancel-edit":
		a.editing = false
	case "pick":
		a.pickLocked(p, target)
		return
	default:
		return
	}
	a.renderLocked(p)
}

func (a *App) onInput(p *Page, n *html.Node) {
	source := attr(n, "data-m2o")
	if source == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p.Mutate(func(doc *html.Node) {
		removeDropdowns(doc)
		value := strings.ToLower(strings.TrimSpace(attr(n, "value")))
		if value == "" {
			return
		}
		var matches []string
		for _, option := range a.optionsLocked(source) {
			if strings.Contains(strings.ToLower(option), value) {
				matches = append(matches, option)
			}
		}
		if len(matches) == 0 || n.Parent == nil {
			return
		}
		n.Parent.AppendChild(dropdown(attr(n, "id"), matches))
	})
}

func (a *App) onKey(p *Page, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch key {
	case "Enter":
		if focused := p.Focused(); focused != nil {
			if first := firstOption(p, attr(focused, "id")); first != nil {
				a.pickLocked(p, first)
				return
			}
		}
		if a.modalOpen && !a.loggedIn {
			a.submitLoginLocked(p)
		}
	case "Escape":
		if a.quickOpen {
			a.quickOpen = false
			a.quickError = false
			a.renderLocked(p)
		}
	}
}

func (a *App) optionsLocked(source string) []string {
	if source == "customers" {
		return a.Customers
	}
	return a.Users
}

func (a *App) submitLoginLocked(p *Page) {
	a.loginClicks++
	email := p.ValueOf("#login")
	password := p.ValueOf("#password")
	if email != a.Email || password != a.Password {
		a.loginError = "Wrong login/password"
		a.modalOpen = true
		a.renderLocked(p)
		return
	}
	a.loggedIn = true
	a.loginError = ""
	a.modalOpen = false
	a.screen = screenDiscuss
	p.SetURL(a.BaseURL + "odoo/discuss")
	a.renderLocked(p)
}

func (a *App) addLocked(p *Page) {
	title := strings.TrimSpace(p.ValueOf("#qc_name"))
	if title == "" {
		a.quickError = true
		a.renderLocked(p)
		return
	}
	t := &Ticket{
		ID:        a.nextID,
		Title:     title,
		Ownership: strings.TrimSpace(p.ValueOf("#qc_owner")),
	}
	a.nextID++
	a.tickets = append(a.tickets, t)
	a.quickError = false
	a.notice = fmt.Sprintf("Task %q created", title)
	if !a.StickyQuickCreate {
		a.quickOpen = false
	}
	a.renderLocked(p)
}

func (a *App) saveLocked(p *Page) {
	t := a.ticketLocked(a.current)
	if t == nil {
		return
	}
	t.Title = strings.TrimSpace(p.ValueOf("#f_name"))
	t.Ownership = strings.TrimSpace(p.ValueOf("#f_owner"))
	t.Customer = strings.TrimSpace(p.ValueOf("#f_customer"))
	t.AssignedTo = strings.TrimSpace(p.ValueOf("#f_assignee"))
	a.editing = false
}

// pickLocked copies an autocomplete option into its input in place.
func (a *App) pickLocked(p *Page, option *html.Node) {
	p.Mutate(func(doc *html.Node) {
		menu := option
		for menu != nil && attr(menu, "data-for") == "" {
			menu = menu.Parent
		}
		if menu == nil {
			return
		}
		if input := htmlquery.FindOne(doc, fmt.Sprintf("//*[@id=%q]", attr(menu, "data-for"))); input != nil {
			setAttr(input, "value", attr(option, "data-value"))
		}
		removeDropdowns(doc)
	})
}

func (a *App) ticketLocked(id int) *Ticket {
	for _, t := range a.tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (a *App) renderLocked(p *Page) {
	var b strings.Builder
	b.WriteString("<html><head><title>Fake Teams</title></head><body>")
	switch a.screen {
	case screenHome:
		a.renderHome(&b)
	default:
		a.renderNavbar(&b)
		b.WriteString(`<div class="o_action_manager">`)
		switch a.screen {
		case screenProjects:
			a.renderProjects(&b)
		case screenTasks:
			a.renderTasks(&b)
		case screenTask:
			a.renderTask(&b)
		default:
			b.WriteString(`<div class="o_discuss"><h2>Inbox</h2><p>Congratulations, your inbox is empty.</p></div>`)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString("</body></html>")
	if err := p.SetHTML(b.String()); err != nil {
		panic(err)
	}
}

func (a *App) renderHome(b *strings.Builder) {
	b.WriteString(`<header class="o_header_standard"><nav class="navbar">`)
	b.WriteString(`<a class="nav-link" href="/about">About</a>`)
	b.WriteString(`<a class="btn-link" href="#loginPopup" data-action="login-trigger"><span class="te_user_account_icon d-block"></span></a>`)
	b.WriteString(`</nav></header><main><h1>Welcome</h1></main>`)
	style := "display:none"
	if a.modalOpen {
		style = "display:block"
	}
	fmt.Fprintf(b, `<div id="loginRegisterPopup" class="modal" style="%s"><div class="modal-dialog" role="dialog">`, style)
	b.WriteString(`<form class="login-form" action="/web/login">`)
	b.WriteString(`<label for="login">Email</label><input id="login" name="login" type="text"/>`)
	b.WriteString(`<label for="password">Password</label><input id="password" name="password" type="password"/>`)
	if a.loginError != "" {
		fmt.Fprintf(b, `<p class="alert alert-danger">%s</p>`, esc(a.loginError))
	}
	b.WriteString(`<button type="submit" class="btn btn-primary" data-action="login">Log in</button>`)
	b.WriteString(`</form></div></div>`)
}

func (a *App) renderNavbar(b *strings.Builder) {
	b.WriteString(`<nav class="o_main_navbar"><div class="o_navbar_apps_menu">`)
	b.WriteString(`<button class="o_menu_apps" title="Home Menu" data-action="menu"><i class="oi oi-apps"></i></button>`)
	if a.menuOpen {
		b.WriteString(`<div class="o_dropdown_menu dropdown-menu">`)
		b.WriteString(`<a class="o_app" href="/odoo/discuss">Discuss</a>`)
		b.WriteString(`<a class="o_app" href="/odoo/project" data-action="projects">Project</a>`)
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div><span class="o_menu_brand">Teams</span></nav>`)
}

func (a *App) renderProjects(b *strings.Builder) {
	b.WriteString(`<div class="o_projects"><div class="o_control_panel_main"><span class="o_breadcrumb">Projects</span></div>`)
	for i, name := range a.Projects {
		fmt.Fprintf(b, `<div class="o_kanban_record" data-action="open-project" data-index="%d" data-project="%s"><span class="o_text_overflow">%s</span></div>`,
			i+1, esc(name), esc(name))
	}
	b.WriteString(`</div>`)
}

func (a *App) renderTasks(b *strings.Builder) {
	fmt.Fprintf(b, `<div class="o_control_panel"><span class="o_breadcrumb">%s</span>`, esc(a.project))
	b.WriteString(`<button type="button" class="btn btn-primary o-kanban-button-new" data-action="new">New</button></div>`)
	if a.notice != "" {
		fmt.Fprintf(b, `<div class="o_notification alert-success">%s</div>`, esc(a.notice))
		a.notice = ""
	}
	b.WriteString(`<div class="o_kanban_view o_kanban_renderer"><div class="o_kanban_group"><div class="o_kanban_header">New</div>`)
	if a.quickOpen {
		invalid := ""
		if a.quickError {
			invalid = " o_field_invalid"
		}
		b.WriteString(`<div class="o_kanban_quick_create"><table><tbody>`)
		fmt.Fprintf(b, `<tr><td><label for="qc_name">Task Title</label></td><td><div name="name" class="o_field_widget%s"><input id="qc_name" name="name" type="text"/></div></td></tr>`, invalid)
		b.WriteString(`<tr><td><label for="qc_owner">Ownership</label></td><td><div name="ownership_id" class="o_field_many2one"><input id="qc_owner" name="ownership_id" type="text" data-m2o="users"/></div></td></tr>`)
		b.WriteString(`</tbody></table><div class="o_kanban_quick_create_buttons">`)
		b.WriteString(`<button type="button" class="btn btn-primary o_kanban_add" data-action="add">Add</button>`)
		b.WriteString(`<button type="button" class="btn btn-primary o_kanban_edit">Edit</button>`)
		b.WriteString(`<button type="button" class="btn btn-secondary o_kanban_cancel" data-action="discard">Discard</button>`)
		b.WriteString(`</div></div>`)
	}
	for i := len(a.tickets) - 1; i >= 0; i-- {
		t := a.tickets[i]
		fmt.Fprintf(b, `<div class="o_kanban_record" data-action="open-ticket" data-id="%d"><span class="o_kanban_record_title">%s</span> <span class="ticket-id">#%d</span></div>`,
			t.ID, esc(t.Title), t.ID)
	}
	b.WriteString(`</div></div>`)
}

func (a *App) renderTask(b *strings.Builder) {
	t := a.ticketLocked(a.current)
	if t == nil {
		b.WriteString(`<div class="o_nocontent_help">Record not found</div>`)
		return
	}
	if !a.editing {
		b.WriteString(`<div class="o_form_view o_form_readonly"><div class="o_form_buttons_view">`)
		b.WriteString(`<button type="button" class="btn btn-primary o_form_button_edit" data-action="edit">Edit</button></div>`)
		fmt.Fprintf(b, `<div class="o_form_sheet"><h1 class="o_task_name">%s</h1><table><tbody>`, esc(t.Title))
		readonlyRow(b, "Ownership", t.Ownership)
		readonlyRow(b, "Customer", t.Customer)
		readonlyRow(b, "Assigned To", t.AssignedTo)
		b.WriteString(`</tbody></table></div></div>`)
		return
	}
	b.WriteString(`<div class="o_form_view o_form_editable"><div class="o_form_buttons_edit">`)
	b.WriteString(`<button type="button" class="btn btn-primary o_form_button_save" data-action="save">Save</button>`)
	b.WriteString(`<button type="button" class="btn btn-secondary o_form_button_cancel" data-action="cancel-edit">Discard</button></div>`)
	b.WriteString(`<div class="o_form_sheet"><table><tbody>`)
	fmt.Fprintf(b, `<tr><td><label for="f_name">Task Title</label></td><td><div name="name"><input id="f_name" name="name" type="text" value="%s"/></div></td></tr>`, esc(t.Title))
	editRow(b, "f_owner", "Ownership", "ownership_id", "users", t.Ownership)
	editRow(b, "f_customer", "Customer", "partner_id", "customers", t.Customer)
	editRow(b, "f_assignee", "Assigned To", "user_ids", "users", t.AssignedTo)
	b.WriteString(`</tbody></table></div></div>`)
}

func readonlyRow(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, `<tr><td><label>%s</label></td><td><span>%s</span></td></tr>`, esc(label), esc(value))
}

func editRow(b *strings.Builder, id, label, name, source, value string) {
	fmt.Fprintf(b, `<tr><td><label for="%s">%s</label></td><td><div name="%s" class="o_field_many2one"><input id="%s" type="text" data-m2o="%s" value="%s"/></div></td></tr>`,
		id, esc(label), name, id, source, esc(value))
}

// dropdown builds an autocomplete menu for the input with the given id.
func dropdown(inputID string, options []string) *html.Node {
	ul := &html.Node{Type: html.ElementNode, Data: "ul", DataAtom: atom.Ul, Attr: []html.Attribute{
		{Key: "class", Val: "o-autocomplete--dropdown-menu dropdown-menu"},
		{Key: "data-for", Val: inputID},
	}}
	for _, option := range options {
		li := &html.Node{Type: html.ElementNode, Data: "li", DataAtom: atom.Li, Attr: []html.Attribute{
			{Key: "class", Val: "o-autocomplete--dropdown-item ui-menu-item"},
			{Key: "data-action", Val: "pick"},
			{Key: "data-value", Val: option},
		}}
		link := &html.Node{Type: html.ElementNode, Data: "a", DataAtom: atom.A, Attr: []html.Attribute{
			{Key: "class", Val: "dropdown-item"},
			{Key: "href", Val: "#"},
		}}
		link.AppendChild(&html.Node{Type: html.TextNode, Data: option})
		li.AppendChild(link)
		ul.AppendChild(li)
	}
	return ul
}

func removeDropdowns(doc *html.Node) {
	for _, menu := range htmlquery.Find(doc, `//ul[@data-for]`) {
		if menu.Parent != nil {
			menu.Parent.RemoveChild(menu)
		}
	}
}

func firstOption(p *Page, inputID string) *html.Node {
	if inputID == "" {
		return nil
	}
	return p.Find(fmt.Sprintf(`ul[data-for="%s"] li[data-action="pick"]`, inputID))
}

// actionNode returns n or its nearest ancestor carrying data-action.
func actionNode(n *html.Node) *html.Node {
	for m := n; m != nil && m.Type == html.ElementNode; m = m.Parent {
		if hasAttr(m, "data-action") {
			return m
		}
	}
	return nil
}

func esc(s string) string { return html.EscapeString(s) }
