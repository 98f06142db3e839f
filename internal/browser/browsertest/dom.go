package browsertest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// isAncestor reports whether a is a proper ancestor of b.
func isAncestor(a, b *html.Node) bool {
	for p := b.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

var nonRendered = map[string]bool{"head": true, "script": true, "style": true, "template": true, "title": true}

// displayed mirrors computed display/visibility for inline styles.
func displayed(n *html.Node) bool {
	if n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
		return false
	}
	for m := n; m != nil && m.Type == html.ElementNode; m = m.Parent {
		if nonRendered[m.Data] || hasAttr(m, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attr(m, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func isControl(n *html.Node) bool {
	switch n.Data {
	case "input", "textarea", "select":
		return true
	}
	return false
}

func valueOf(n *html.Node) string {
	switch n.Data {
	case "input":
		return attr(n, "value")
	case "textarea":
		if hasAttr(n, "value") {
			return attr(n, "value")
		}
		return htmlquery.InnerText(n)
	case "select":
		options := htmlquery.Find(n, ".//option")
		for _, opt := range options {
			if hasAttr(opt, "selected") {
				return optionValue(opt)
			}
		}
		if len(options) > 0 {
			return optionValue(options[0])
		}
	}
	return ""
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return attr(opt, "value")
	}
	return normalize(htmlquery.InnerText(opt))
}

// fieldName returns the control's name, or the name of the nearest named
// ancestor widget.
func fieldName(n *html.Node) string {
	if name := attr(n, "name"); name != "" {
		return name
	}
	for m := n.Parent; m != nil && m.Type == html.ElementNode; m = m.Parent {
		if name := attr(m, "name"); name != "" {
			return name
		}
	}
	return ""
}

// labelFor finds the label text for a control: label[for], a wrapping
// label, a preceding sibling label, or a label in the previous table cell.
func labelFor(doc, n *html.Node) string {
	if id := attr(n, "id"); id != "" {
		var found *html.Node
		var walk func(m *html.Node)
		walk = func(m *html.Node) {
			if found != nil {
				return
			}
			if m.Type == html.ElementNode && m.Data == "label" && attr(m, "for") == id {
				found = m
				return
			}
			for c := m.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(doc)
		if found != nil {
			return htmlquery.InnerText(found)
		}
	}
	for m := n.Parent; m != nil && m.Type == html.ElementNode; m = m.Parent {
		if m.Data == "label" {
			return htmlquery.InnerText(m)
		}
	}
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == "label" {
			return htmlquery.InnerText(s)
		}
	}
	for m := n.Parent; m != nil && m.Type == html.ElementNode; m = m.Parent {
		if m.Data != "td" {
			continue
		}
		for s := m.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type != html.ElementNode {
				continue
			}
			if l := htmlquery.FindOne(s, ".//label"); l != nil {
				return htmlquery.InnerText(l)
			}
			break
		}
		break
	}
	return ""
}

func closest(doc, n *html.Node, selector string) *html.Node {
	sel := goquery.NewDocumentFromNode(doc).FindNodes(n).Closest(selector)
	if sel.Length() == 0 {
		return nil
	}
	return sel.Nodes[0]
}

// CSSPath builds the selector a click capture records for n: the nearest
// ancestor with an id ends the path, other levels are the tag with up to
// three classes and :nth-of-type when the tag repeats among siblings. At most
// six levels are kept.
func CSSPath(n *html.Node) string {
	var path []string
	for m := n; m != nil && m.Type == html.ElementNode && len(path) < 6; m = m.Parent {
		sel := m.Data
		if id := attr(m, "id"); id != "" {
			path = append([]string{sel + "#" + cssEscape(id)}, path...)
			break
		}
		classes := strings.Fields(attr(m, "class"))
		if len(classes) > 3 {
			classes = classes[:3]
		}
		for _, c := range classes {
			sel += "." + cssEscape(c)
		}
		if parent := m.Parent; parent != nil && parent.Type == html.ElementNode {
			count, index := 0, 0
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == m.Data {
					count++
					if c == m {
						index = count
					}
				}
			}
			if count > 1 {
				sel += fmt.Sprintf(":nth-of-type(%d)", index)
			}
		}
		path = append([]string{sel}, path...)
	}
	return strings.Join(path, " > ")
}

func cssEscape(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9' && i == 0:
			fmt.Fprintf(&b, "\\3%c ", r)
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r > 0x7f:
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
