package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ticketbot/internal/browser"
	"ticketbot/internal/browser/browsertest"
	"ticketbot/internal/config"
	"ticketbot/internal/events"
	"ticketbot/internal/resolver"
	"ticketbot/internal/workflow"
)

type recorder struct {
	mu     sync.Mutex
	events []events.CanonicalEvent
}

func (r *recorder) Publish(_ context.Context, evt events.CanonicalEvent) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func blankLauncher() *browsertest.Launcher {
	return browsertest.NewLauncher(func() *browsertest.Page {
		return browsertest.NewPage(`<html><body></body></html>`)
	})
}

// blockingRun reports a step and then blocks until the session is cancelled.
func blockingRun(started chan<- struct{}) RunFunc {
	return func(ctx context.Context, _ string, _ browser.Page, _ Request, progress func(string)) workflow.Result {
		progress(workflow.StepLogin)
		close(started)
		<-ctx.Done()
		return workflow.Result{Step: workflow.StepLogin, Error: ctx.Err().Error(), Err: ctx.Err()}
	}
}

func waitFinished(t *testing.T, reg *Registry, id string) State {
	t.Helper()
	var st State
	require.Eventually(t, func() bool {
		var err error
		st, err = reg.Get(id)
		return err == nil && st.Finished
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

func TestDelete_UnknownSession(t *testing.T) {
	reg := NewRegistry(blankLauncher(), nil, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, reg.Delete("123"), ErrNotFound)

	_, err := reg.Get("123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RunningSession(t *testing.T) {
	launcher := blankLauncher()
	started := make(chan struct{})
	reg := NewRegistry(launcher, blockingRun(started), nil, zaptest.NewLogger(t))

	id, err := reg.Start(context.Background(), Request{})
	require.NoError(t, err)
	<-started

	st, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepLogin, st.Step)
	assert.False(t, st.Finished)

	require.NoError(t, reg.Delete(id))

	pages := launcher.Pages()
	require.Len(t, pages, 1)
	assert.True(t, pages[0].IsClosed())

	_, err = reg.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.Delete(id), ErrNotFound)

	require.NoError(t, reg.CloseAll(context.Background()))
}

func TestDelete_BlockedInLearning(t *testing.T) {
	launcher := blankLauncher()
	opts := workflow.Options{
		BaseURL: "https://fake.test/",
		Project: "Test Support",
		Timings: config.TimingsConfig{
			StepTimeout:  10 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
		},
		ScreenshotDir: t.TempDir(),
	}
	ropts := resolver.Options{Learn: true, LearnTimeout: time.Minute, PollInterval: 5 * time.Millisecond}
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(launcher, WorkflowRunner(config.DefaultCatalog(), opts, ropts, logger), nil, logger)

	id, err := reg.Start(context.Background(), Request{
		Credentials: workflow.Credentials{Email: "a@b.com", Password: "x"},
		Ticket:      workflow.Ticket{Title: "Sample"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pages := launcher.Pages()
		return len(pages) == 1 && pages[0].Armed()
	}, 5*time.Second, 5*time.Millisecond, "the run should be waiting for a human click")

	require.NoError(t, reg.Delete(id))
	assert.True(t, launcher.Pages()[0].IsClosed())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.CloseAll(ctx), "the run must return once its tab is gone")
}

func TestStart_RunsWorkflowAndPublishes(t *testing.T) {
	app := browsertest.NewApp("a@b.com", "x")
	launcher := browsertest.NewLauncher(app.Page)
	pub := &recorder{}
	opts := workflow.Options{
		BaseURL: app.BaseURL,
		Project: "Test Support",
		Timings: config.TimingsConfig{
			StepTimeout:   300 * time.Millisecond,
			PollInterval:  5 * time.Millisecond,
			SubmitVerify:  40 * time.Millisecond,
			ManualNavWait: 40 * time.Millisecond,
		},
		ScreenshotDir: t.TempDir(),
	}
	logger := zaptest.NewLogger(t)
	runner := WorkflowRunner(config.DefaultCatalog(), opts, resolver.Options{PollInterval: 5 * time.Millisecond}, logger)
	reg := NewRegistry(launcher, runner, pub, logger)

	id, err := reg.Start(context.Background(), Request{
		Credentials: workflow.Credentials{Email: "a@b.com", Password: "x"},
		Ticket:      workflow.Ticket{Title: "Sample", Customer: "Acme", AssignedTo: "Jane Doe"},
	})
	require.NoError(t, err)

	st := waitFinished(t, reg, id)
	require.NotNil(t, st.Result)
	require.True(t, st.Result.Success, st.Result.Error)
	assert.Equal(t, workflow.StepDone, st.Step)

	ticket, ok := app.Ticket("Sample")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", ticket.AssignedTo)
	assert.Equal(t, "Acme", ticket.Customer)

	assert.True(t, launcher.Pages()[0].IsClosed(), "the tab is closed when the run finishes")

	types := pub.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeStarted, types[0])
	assert.Equal(t, events.TypeCompleted, types[len(types)-1])
	assert.Contains(t, types, events.TypeStep)

	// Finished sessions stay queryable until deleted.
	require.NoError(t, reg.Delete(id))
	_, err = reg.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStart_FailedRunPublishesFailure(t *testing.T) {
	pub := &recorder{}
	run := func(ctx context.Context, _ string, _ browser.Page, _ Request, _ func(string)) workflow.Result {
		return workflow.Result{Step: workflow.StepLogin, Error: "login step failed: nope", Err: errors.New("nope")}
	}
	reg := NewRegistry(blankLauncher(), run, pub, zaptest.NewLogger(t))

	id, err := reg.Start(context.Background(), Request{})
	require.NoError(t, err)
	st := waitFinished(t, reg, id)

	assert.False(t, st.Result.Success)
	assert.Equal(t, workflow.StepLogin, st.Step)
	require.NoError(t, reg.CloseAll(context.Background()))
	assert.Equal(t, []string{events.TypeStarted, events.TypeFailed}, pub.types())
}

func TestStart_LauncherError(t *testing.T) {
	launcher := blankLauncher()
	launcher.Err = errors.New("no browser")
	reg := NewRegistry(launcher, nil, nil, zaptest.NewLogger(t))

	_, err := reg.Start(context.Background(), Request{})
	assert.EqualError(t, err, "no browser")
	assert.Empty(t, reg.List())
}

func TestNextID_Monotonic(t *testing.T) {
	reg := NewRegistry(blankLauncher(), nil, nil, zaptest.NewLogger(t))
	now := time.UnixMilli(1700000000000)

	a := reg.nextIDLocked(now)
	b := reg.nextIDLocked(now)
	c := reg.nextIDLocked(now.Add(-time.Second))

	assert.Equal(t, "1700000000000", a)
	assert.Equal(t, "1700000000001", b)
	assert.Equal(t, "1700000000002", c)
}

func TestList_Ordered(t *testing.T) {
	started := make(chan struct{})
	reg := NewRegistry(blankLauncher(), blockingRun(started), nil, zaptest.NewLogger(t))
	first, err := reg.Start(context.Background(), Request{})
	require.NoError(t, err)
	<-started

	started2 := make(chan struct{})
	reg.run = blockingRun(started2)
	second, err := reg.Start(context.Background(), Request{})
	require.NoError(t, err)
	<-started2

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)

	a, _ := strconv.ParseInt(first, 10, 64)
	b, _ := strconv.ParseInt(second, 10, 64)
	assert.Greater(t, b, a)

	require.NoError(t, reg.CloseAll(context.Background()))
	assert.Empty(t, reg.List())
}
