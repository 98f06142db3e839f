// Package browsertest provides an in-memory browser.Page backed by a parsed
// HTML document, for exercising the resolver and workflow without Chromium.
//
// Fixtures describe geometry with attributes: data-box="x,y,w,h" sets the
// bounding box and data-in-viewport="false" marks an element as scrolled
// away. Elements without data-box get a distinct 100x20 row so that point
// clicks can be hit-tested. Inline display:none, visibility:hidden and the
// hidden attribute hide an element and its descendants.
// data-click-fails="native,mouse" makes the named click strategies fail.
package browsertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"ticketbot/internal/browser"
)

// Hooks let a fake application react to user input.
type Hooks struct {
	OnClick    func(p *Page, n *html.Node)
	OnInput    func(p *Page, n *html.Node)
	OnKey      func(p *Page, key string)
	OnNavigate func(p *Page, url string)
}

// ScriptFunc answers a Page.Evaluate call for one known script.
type ScriptFunc func(p *Page, arg any) (any, error)

// Click records one click delivered to an element.
type Click struct {
	Method string // native, mouse or script
	Tag    string
	ID     string
	Text   string
}

type Page struct {
	mu      sync.Mutex
	doc     *html.Node
	url     string
	closed  bool
	focused *html.Node
	hooks   Hooks
	scripts map[string]ScriptFunc

	armed          bool
	captureClosest string
	captured       string

	clicks      []Click
	keys        []string
	screenshots []string
	closeCalls  int
}

var _ browser.Page = (*Page)(nil)

// NewPage parses markup into a new page. It panics on unparsable markup,
// which only happens with broken fixtures.
func NewPage(markup string) *Page {
	p := &Page{url: "about:blank", scripts: map[string]ScriptFunc{}}
	if err := p.SetHTML(markup); err != nil {
		panic(err)
	}
	return p
}

// SetHTML replaces the whole document. Existing element handles detach.
func (p *Page) SetHTML(markup string) error {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.focused = nil
	p.mu.Unlock()
	return nil
}

// HTML renders the current document.
func (p *Page) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, p.doc)
	return buf.String()
}

func (p *Page) SetHooks(h Hooks) {
	p.mu.Lock()
	p.hooks = h
	p.mu.Unlock()
}

// HandleScript registers the answer for an exact script passed to Evaluate.
func (p *Page) HandleScript(script string, fn ScriptFunc) {
	p.mu.Lock()
	p.scripts[script] = fn
	p.mu.Unlock()
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Find returns the first node matching selector, or nil.
func (p *Page) Find(selector string) *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, _ := p.queryLocked(p.doc, selector)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// ValueOf returns the value of the first control matching selector.
func (p *Page) ValueOf(selector string) string {
	n := p.Find(selector)
	if n == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return valueOf(n)
}

// SetValue sets a control's value in place without firing hooks.
func (p *Page) SetValue(n *html.Node, value string) {
	p.mu.Lock()
	setAttr(n, "value", value)
	p.mu.Unlock()
}

// Mutate runs fn with the document locked, for in-place DOM edits from hooks.
func (p *Page) Mutate(fn func(doc *html.Node)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.doc)
}

// Focused returns the control that last received a click or input.
func (p *Page) Focused() *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *Page) Clicks() []Click {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Click(nil), p.clicks...)
}

func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

// CloseCalls reports how many times Close was called.
func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Armed reports whether a click capture is waiting for a click.
func (p *Page) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// SimulateHumanClick clicks the first element matching selector the way a
// person would. An armed capture records the element's CSS path first.
func (p *Page) SimulateHumanClick(selector string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	nodes, err := p.queryLocked(p.doc, selector)
	if err != nil || len(nodes) == 0 {
		p.mu.Unlock()
		return fmt.Errorf("no element matches %q", selector)
	}
	n := nodes[0]
	if p.armed {
		chosen := n
		if p.captureClosest != "" {
			if c := closest(p.doc, n, p.captureClosest); c != nil {
				chosen = c
			}
		}
		p.captured = CSSPath(chosen)
		p.armed = false
	}
	p.mu.Unlock()
	return p.deliverClick(n, "human")
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrPageClosed
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	hook := p.hooks.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	return p.Goto(ctx, p.URL())
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	nodes, err := p.queryLocked(p.doc, selector)
	if err != nil {
		return nil, err
	}
	return p.wrap(nodes), nil
}

func (p *Page) ClickAt(ctx context.Context, x, y float64) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	var hit *html.Node
	boxes := p.boxesLocked()
	for n, b := range boxes.byNode {
		if !displayed(n) || x < b.X || x > b.X+b.Width || y < b.Y || y > b.Y+b.Height {
			continue
		}
		// Prefer the deepest, then the latest in document order.
		if hit == nil || isAncestor(hit, n) || (!isAncestor(n, hit) && boxes.order[n] > boxes.order[hit]) {
			hit = n
		}
	}
	p.mu.Unlock()
	if hit == nil {
		return fmt.Errorf("no element at (%.0f, %.0f)", x, y)
	}
	if failsWith(hit, "mouse") {
		return errors.New("mouse click was intercepted")
	}
	return p.deliverClick(hit, "mouse")
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.keys = append(p.keys, key)
	hook := p.hooks.OnKey
	p.mu.Unlock()
	if hook != nil {
		hook(p, key)
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	fn := p.scripts[script]
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(p, arg)
}

func (p *Page) ArmClickCapture(ctx context.Context, closest string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.armed = true
	p.captureClosest = closest
	p.captured = ""
	p.mu.Unlock()
	return nil
}

func (p *Page) CapturedSelector(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sel := p.captured
	p.captured = ""
	return sel, nil
}

// Screenshot writes the rendered document to path.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	markup := p.HTML()
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		return err
	}
	p.mu.Lock()
	p.screenshots = append(p.screenshots, path)
	p.mu.Unlock()
	return nil
}

func (p *Page) BringToFront(ctx context.Context) error { return p.check(ctx) }

func (p *Page) WaitReady(ctx context.Context) error { return p.check(ctx) }

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCalls++
	return nil
}

// deliverClick records a click and fires the click hook. It must be called
// without holding the lock.
func (p *Page) deliverClick(n *html.Node, method string) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, Click{
		Method: method,
		Tag:    n.Data,
		ID:     attr(n, "id"),
		Text:   normalize(htmlquery.InnerText(n)),
	})
	if isControl(n) {
		p.focused = n
	}
	hook := p.hooks.OnClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, n)
	}
	return nil
}

func (p *Page) fireInput(n *html.Node) {
	p.mu.Lock()
	p.focused = n
	hook := p.hooks.OnInput
	p.mu.Unlock()
	if hook != nil {
		hook(p, n)
	}
}

func (p *Page) queryLocked(root *html.Node, selector string) ([]*html.Node, error) {
	if root == nil {
		return nil, nil
	}
	if browser.IsXPath(selector) {
		nodes, err := htmlquery.QueryAll(root, strings.TrimPrefix(selector, browser.XPathPrefix))
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", selector, err)
		}
		out := nodes[:0]
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				out = append(out, n)
			}
		}
		return out, nil
	}
	doc := goquery.NewDocumentFromNode(p.doc)
	if root == p.doc {
		return doc.Find(selector).Nodes, nil
	}
	return doc.FindNodes(root).Find(selector).Nodes, nil
}

func (p *Page) wrap(nodes []*html.Node) []browser.Element {
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{page: p, node: n})
	}
	return out
}

type boxIndex struct {
	byNode map[*html.Node]browser.Box
	order  map[*html.Node]int
}

// boxesLocked assigns every displayed element its declared or default box.
func (p *Page) boxesLocked() boxIndex {
	idx := boxIndex{byNode: map[*html.Node]browser.Box{}, order: map[*html.Node]int{}}
	i := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			idx.order[n] = i
			if b, ok := declaredBox(n); ok {
				idx.byNode[n] = b
			} else {
				idx.byNode[n] = browser.Box{X: 0, Y: float64(i * 20), Width: 100, Height: 20}
			}
			i++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(p.doc)
	return idx
}

// Element is a handle to one node of a Page.
type Element struct {
	page *Page
	node *html.Node
}

var _ browser.Element = (*Element)(nil)

// Node exposes the underlying node for assertions.
func (e *Element) Node() *html.Node { return e.node }

func (e *Element) check(ctx context.Context) error {
	if err := e.page.check(ctx); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if !isAncestor(e.page.doc, e.node) {
		return browser.ErrDetached
	}
	return nil
}

func (e *Element) Info(ctx context.Context) (browser.ElementInfo, error) {
	if err := e.check(ctx); err != nil {
		return browser.ElementInfo{}, err
	}
	p := e.page
	p.mu.Lock()
	defer p.mu.Unlock()

	n := e.node
	info := browser.ElementInfo{
		Tag:         n.Data,
		Text:        truncate(normalize(htmlquery.InnerText(n)), 500),
		ID:          attr(n, "id"),
		Name:        fieldName(n),
		Type:        attr(n, "type"),
		Placeholder: attr(n, "placeholder"),
		Class:       attr(n, "class"),
		Label:       normalize(labelFor(p.doc, n)),
		AriaLabel:   attr(n, "aria-label"),
		Value:       valueOf(n),
		Displayed:   displayed(n),
	}
	if info.Displayed {
		b := p.boxesLocked().byNode[n]
		info.Box = &b
		info.InViewport = attr(n, "data-in-viewport") != "false"
	}
	return info, nil
}

func (e *Element) Click(ctx context.Context) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	if !displayed(e.node) {
		return errors.New("element is not visible")
	}
	if failsWith(e.node, "native") {
		return errors.New("element click intercepted")
	}
	return e.page.deliverClick(e.node, "native")
}

func (e *Element) DispatchClick(ctx context.Context) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	if failsWith(e.node, "script") {
		return errors.New("script click failed")
	}
	return e.page.deliverClick(e.node, "script")
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	e.page.mu.Lock()
	if attr(e.node, "data-in-viewport") == "false" {
		setAttr(e.node, "data-in-viewport", "true")
	}
	e.page.mu.Unlock()
	return nil
}

func (e *Element) BoundingBox(ctx context.Context) (*browser.Box, error) {
	info, err := e.Info(ctx)
	if err != nil {
		return nil, err
	}
	return info.Box, nil
}

func (e *Element) Clear(ctx context.Context) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	e.page.mu.Lock()
	setAttr(e.node, "value", "")
	e.page.mu.Unlock()
	e.page.fireInput(e.node)
	return nil
}

func (e *Element) Type(ctx context.Context, text string) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	if !displayed(e.node) {
		return errors.New("element is not visible")
	}
	e.page.mu.Lock()
	setAttr(e.node, "value", attr(e.node, "value")+text)
	e.page.mu.Unlock()
	e.page.fireInput(e.node)
	return nil
}

func (e *Element) SelectOption(ctx context.Context, label string) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	if e.node.Data != "select" {
		return fmt.Errorf("element is a %s, not a select", e.node.Data)
	}
	e.page.mu.Lock()
	want := strings.ToLower(strings.TrimSpace(label))
	var exact, partial *html.Node
	for _, opt := range htmlquery.Find(e.node, ".//option") {
		text := strings.ToLower(normalize(htmlquery.InnerText(opt)))
		if exact == nil && text == want {
			exact = opt
		}
		if partial == nil && strings.Contains(text, want) {
			partial = opt
		}
	}
	chosen := exact
	if chosen == nil {
		chosen = partial
	}
	if chosen == nil {
		e.page.mu.Unlock()
		return fmt.Errorf("option %q not found", label)
	}
	for _, opt := range htmlquery.Find(e.node, ".//option") {
		removeAttr(opt, "selected")
	}
	setAttr(chosen, "selected", "selected")
	e.page.mu.Unlock()
	e.page.fireInput(e.node)
	return nil
}

func (e *Element) Value(ctx context.Context) (string, error) {
	if err := e.check(ctx); err != nil {
		return "", err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return valueOf(e.node), nil
}

func (e *Element) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	nodes, err := e.page.queryLocked(e.node, selector)
	if err != nil {
		return nil, err
	}
	return e.page.wrap(nodes), nil
}

func (e *Element) Parent(ctx context.Context) (browser.Element, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	parent := e.node.Parent
	if parent == nil || parent.Type != html.ElementNode {
		return nil, nil
	}
	return &Element{page: e.page, node: parent}, nil
}

func declaredBox(n *html.Node) (browser.Box, bool) {
	raw := attr(n, "data-box")
	if raw == "" {
		return browser.Box{}, false
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return browser.Box{}, false
	}
	var v [4]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return browser.Box{}, false
		}
		v[i] = f
	}
	return browser.Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, true
}

func failsWith(n *html.Node, method string) bool {
	for _, m := range strings.Split(attr(n, "data-click-fails"), ",") {
		if strings.TrimSpace(m) == method {
			return true
		}
	}
	return false
}
