package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ticketbot/internal/browser"
	"ticketbot/internal/browser/browsertest"
	"ticketbot/internal/config"
	"ticketbot/internal/wait"
)

func newTestResolver(t *testing.T, opts Options) *Resolver {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	return New(config.DefaultCatalog(), NewMemory(), opts, zaptest.NewLogger(t))
}

func elementID(t *testing.T, el browser.Element) string {
	t.Helper()
	info, err := el.Info(context.Background())
	require.NoError(t, err)
	return info.ID
}

func TestResolve_AssignedToNotOwnership(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{})
	page := browsertest.NewPage(`<html><body><table>
		<tr><td><label for="owner">Ownership</label></td><td><div name="ownership_id"><input id="owner" placeholder="Assigned owner"></div></td></tr>
		<tr><td><label for="customer">Customer</label></td><td><div name="partner_id"><input id="customer"></div></td></tr>
		<tr><td><label for="assignee">Assigned To</label></td><td><div name="user_ids"><input id="assignee"></div></td></tr>
	</table></body></html>`)

	m, err := r.Find(ctx, page, "assignee_field")
	require.NoError(t, err)
	assert.Equal(t, TierStructural, m.Tier)
	assert.Equal(t, "assignee", elementID(t, m.Element))

	m, err = r.Find(ctx, page, "customer_field")
	require.NoError(t, err)
	assert.Equal(t, "customer", elementID(t, m.Element))
}

func TestResolve_ExcludedFieldIsNeverChosen(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{})
	page := browsertest.NewPage(`<html><body>
		<label for="owner">Ownership</label><input id="owner" placeholder="Assigned owner">
	</body></html>`)

	_, err := r.Find(ctx, page, "assignee_field")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)

	var unresolved *UnresolvedError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "assignee_field", unresolved.Target)
	assert.Len(t, unresolved.Causes, 3)
}

func TestChain_StaticFastPath(t *testing.T) {
	ctx := context.Background()
	page := browsertest.NewPage(`<html><body>
		<button id="other">Add</button>
		<div class="o_kanban_quick_create"><button id="add" class="o_kanban_add">Add</button></div>
	</body></html>`)

	later := 0
	spy := Tier{Name: "spy", Resolve: func(context.Context, browser.Page, Target) (browser.Element, error) {
		later++
		return nil, ErrNotFound
	}}
	chain := NewChain(zaptest.NewLogger(t), StaticTier(NewMemory()), spy)

	target := FromSpec("add_button", config.DefaultCatalog().Lookup("add_button"))
	m, err := chain.Resolve(ctx, page, target)
	require.NoError(t, err)
	assert.Equal(t, TierStatic, m.Tier)
	assert.Equal(t, "add", elementID(t, m.Element))
	assert.Zero(t, later, "later tiers must not run once a static selector matched")
}

func TestTextTier_ExactBeatsPartial(t *testing.T) {
	ctx := context.Background()
	page := browsertest.NewPage(`<html><body>
		<button id="partial">Add a line</button>
		<button id="exact">Add</button>
		<button id="second">add</button>
	</body></html>`)

	el, err := TextTier().Resolve(ctx, page, Target{Name: "add", Text: []string{"ADD"}})
	require.NoError(t, err)
	assert.Equal(t, "exact", elementID(t, el))

	el, err = TextTier().Resolve(ctx, page, Target{Name: "line", Text: []string{"line"}})
	require.NoError(t, err)
	assert.Equal(t, "partial", elementID(t, el))

	_, err = TextTier().Resolve(ctx, page, Target{Name: "none", Text: []string{"delete"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_HiddenNeverSelected(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{})
	page := browsertest.NewPage(`<html><body>
		<div class="o_kanban_quick_create"><button id="hidden" class="o_kanban_add" style="display:none">Add</button></div>
		<button id="visible">Add</button>
	</body></html>`)

	m, err := r.Find(ctx, page, "add_button")
	require.NoError(t, err)
	assert.Equal(t, TierText, m.Tier)
	assert.Equal(t, "visible", elementID(t, m.Element))
}

func TestResolve_ZeroSizeInViewportAccepted(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{})
	page := browsertest.NewPage(`<html><body>
		<button id="dot" class="o_kanban_add" data-box="5,5,0,0">Add</button>
	</body></html>`)

	m, err := r.Find(ctx, page, "add_button")
	require.NoError(t, err)
	assert.Equal(t, TierStatic, m.Tier)
	assert.Equal(t, "dot", elementID(t, m.Element))
}

func TestStructuralTier_NearAnchor(t *testing.T) {
	ctx := context.Background()
	page := browsertest.NewPage(`<html><body>
		<div class="toolbar"><button id="save">Save</button></div>
		<div class="buttons"><button id="discard">Discard</button><button id="edit">Edit</button><button id="plus">Add</button></div>
	</body></html>`)

	el, err := StructuralTier().Resolve(ctx, page, Target{
		Name:   "add",
		Text:   []string{"add"},
		Anchor: "Discard",
		Near:   "button",
	})
	require.NoError(t, err)
	assert.Equal(t, "plus", elementID(t, el))

	_, err = StructuralTier().Resolve(ctx, page, Target{Name: "x", Anchor: "Close", Near: "button"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_LearnsFromHumanClick(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{Learn: true, LearnTimeout: 5 * time.Second})
	page := browsertest.NewPage(`<html><body><div id="bar"><button class="btn custom"><span>Sign me up</span></button></div></body></html>`)
	target := Target{Name: "mystery", Learnable: true, LearnClosest: "button"}

	type result struct {
		m   Match
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := r.Resolve(ctx, page, target)
		done <- result{m, err}
	}()

	require.Eventually(t, page.Armed, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, page.SimulateHumanClick("button.custom span"))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, TierLearn, res.m.Tier)
	info, err := res.m.Element.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "button", info.Tag)
	assert.Equal(t, "Sign me up", info.Text)
	assert.Equal(t, []string{"div#bar > button.btn.custom"}, r.Memory().Get("mystery"))

	// The learned selector now resolves statically.
	m, err := r.Resolve(ctx, page, target)
	require.NoError(t, err)
	assert.Equal(t, TierStatic, m.Tier)
	assert.False(t, page.Armed())
}

func TestResolve_LearnTimeout(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{Learn: true, LearnTimeout: 30 * time.Millisecond})
	page := browsertest.NewPage(`<html><body></body></html>`)

	_, err := r.Resolve(ctx, page, Target{Name: "ghost", Learnable: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLearnTimeout)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolve_NotLearnableSkipsLearning(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{Learn: true, LearnTimeout: time.Minute})
	page := browsertest.NewPage(`<html><body></body></html>`)

	_, err := r.Resolve(ctx, page, Target{Name: "ghost"})
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.False(t, page.Armed())
}

func TestProbe_NeverAsksForHelp(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{Learn: true, LearnTimeout: time.Minute})
	page := browsertest.NewPage(`<html><body></body></html>`)

	_, err := r.Probe(ctx, page, r.Target("login_trigger"))
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.False(t, page.Armed())
}

func TestAwait(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{})
	page := browsertest.NewPage(`<html><body></body></html>`)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = page.SetHTML(`<html><body><div class="o_main_navbar">Teams</div></body></html>`)
	}()
	m, err := r.Await(ctx, page, r.Target("app_shell"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, TierStatic, m.Tier)

	_, err = r.Await(ctx, page, r.Target("login_error"), 20*time.Millisecond)
	assert.ErrorIs(t, err, wait.ErrTimeout)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolve_ClosedPage(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t, Options{})
	page := browsertest.NewPage(`<html><body><button class="o_kanban_add">Add</button></body></html>`)
	require.NoError(t, page.Close())

	_, err := r.Find(ctx, page, "add_button")
	assert.ErrorIs(t, err, browser.ErrPageClosed)
	assert.NotErrorIs(t, err, ErrUnresolved)
}

func TestTarget_WithText(t *testing.T) {
	base := Target{Name: "project_card", Text: []string{"old"}, Scope: ".card"}
	got := base.WithText("Test Support")
	assert.Equal(t, []string{"Test Support"}, got.Text)
	assert.Equal(t, ".card", got.Scope)
	assert.Equal(t, "project_card:test support", got.Name)
	assert.Equal(t, []string{"old"}, base.Text)
}

func TestMemory_PutDedupes(t *testing.T) {
	m := NewMemory()
	m.Put("email", "#a")
	m.Put("email", "#b")
	m.Put("email", "#a")
	m.Put("email", "")
	assert.Equal(t, []string{"#a", "#b"}, m.Get("email"))
	assert.Equal(t, map[string][]string{"email": {"#a", "#b"}}, m.Snapshot())
	assert.Empty(t, m.Get("password"))
}
