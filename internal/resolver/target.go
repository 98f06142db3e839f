package resolver

import (
	"strings"

	"ticketbot/internal/config"
)

const (
	// defaultTextScope is searched by the text tier when a target names no scope.
	defaultTextScope = `button, a, [role="button"], input[type="submit"], .o_kanban_record, .card`
	// fieldScope lists the controls the structural tier considers.
	fieldScope = `input:not([type="hidden"]), select, textarea`
	// defaultNear lists the controls searched beside an anchor.
	defaultNear = `button, a, input[type="submit"], [role="button"]`
)

// Target describes one semantic UI element and every hint that can find it.
type Target struct {
	Name string
	// Selectors are tried in order by the static tier.
	Selectors []string
	// Text phrases are matched against visible text by the text tier.
	Text []string
	// Scope narrows the text tier's candidates.
	Scope string
	// Fields are label-like phrases matched by the structural tier.
	Fields []string
	// Exclude rejects candidates whose label, name, id or placeholder
	// contains any of these terms.
	Exclude []string
	// Anchor is the text of a sibling control; the structural tier looks
	// for Near inside the anchor's parent.
	Anchor      string
	AnchorScope string
	Near        string
	Learnable   bool
	// LearnClosest widens a captured click to the nearest matching ancestor.
	LearnClosest string
}

// FromSpec builds a target from a catalog entry.
func FromSpec(name string, spec config.TargetSpec) Target {
	return Target{
		Name:         name,
		Selectors:    append([]string(nil), spec.Selectors...),
		Text:         append([]string(nil), spec.Text...),
		Scope:        spec.Scope,
		Fields:       append([]string(nil), spec.Fields...),
		Exclude:      append([]string(nil), spec.Exclude...),
		Anchor:       spec.Anchor,
		AnchorScope:  spec.AnchorScope,
		Near:         spec.Near,
		Learnable:    spec.Learnable,
		LearnClosest: spec.LearnClosest,
	}
}

// WithText returns a copy of t whose text phrases are replaced by phrases.
// Learned selectors are keyed by name, so the copy gets its own name.
func (t Target) WithText(phrases ...string) Target {
	c := t
	c.Text = append([]string(nil), phrases...)
	c.Name = t.Name + ":" + strings.ToLower(strings.Join(phrases, "|"))
	return c
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
