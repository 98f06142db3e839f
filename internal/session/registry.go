// Package session keeps the in-memory registry of running automations. Each
// session owns one browser tab and one workflow goroutine.
package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/events"
	"ticketbot/internal/workflow"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Request carries what a session needs to run the workflow.
type Request struct {
	Credentials workflow.Credentials
	Ticket      workflow.Ticket
}

// RunFunc runs the workflow for one session on page. progress is called as
// each step starts.
type RunFunc func(ctx context.Context, sessionID string, page browser.Page, req Request, progress func(step string)) workflow.Result

// State is a snapshot of a session.
type State struct {
	ID       string           `json:"sessionId"`
	Created  time.Time        `json:"created"`
	Step     string           `json:"step,omitempty"`
	Finished bool             `json:"finished"`
	Result   *workflow.Result `json:"result,omitempty"`
}

type session struct {
	id      string
	created time.Time
	page    browser.Page
	cancel  context.CancelFunc

	mu       sync.Mutex
	step     string
	finished bool
	result   *workflow.Result
}

func (s *session) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{ID: s.id, Created: s.created, Step: s.step, Finished: s.finished}
	if s.result != nil {
		r := *s.result
		st.Result = &r
	}
	return st
}

// Registry tracks sessions by id.
type Registry struct {
	launcher browser.Launcher
	run      RunFunc
	emitter  *events.Emitter
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	lastID   int64
	wg       sync.WaitGroup
}

func NewRegistry(launcher browser.Launcher, run RunFunc, pub events.Publisher, logger *zap.Logger) *Registry {
	logger = logger.Named("session")
	return &Registry{
		launcher: launcher,
		run:      run,
		emitter:  events.NewEmitter(pub, logger),
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// nextIDLocked returns a unix-millisecond id strictly greater than the last.
func (r *Registry) nextIDLocked(now time.Time) string {
	id := now.UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id
	return strconv.FormatInt(id, 10)
}

// Start opens a tab and runs the workflow on it in the background. It
// returns as soon as the session is registered.
func (r *Registry) Start(ctx context.Context, req Request) (string, error) {
	page, err := r.launcher.NewPage(ctx)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	s := &session{
		id:      r.nextIDLocked(time.Now()),
		created: time.Now(),
		page:    page,
		cancel:  cancel,
	}
	r.sessions[s.id] = s
	r.wg.Add(1)
	r.mu.Unlock()

	logger := r.logger.With(zap.String("session_id", s.id))
	logger.Info("Session started", zap.String("title", req.Ticket.Title))
	r.emitter.Emit(ctx, events.TypeStarted, s.id, req.Ticket.Title, map[string]any{
		"title": req.Ticket.Title,
	})

	go r.execute(runCtx, s, req, logger)
	return s.id, nil
}

func (r *Registry) execute(ctx context.Context, s *session, req Request, logger *zap.Logger) {
	defer r.wg.Done()
	defer s.cancel()

	progress := func(step string) {
		s.mu.Lock()
		s.step = step
		s.mu.Unlock()
		r.emitter.Emit(context.WithoutCancel(ctx), events.TypeStep, s.id, step, map[string]any{"step": step})
	}

	res := r.run(ctx, s.id, s.page, req, progress)

	s.mu.Lock()
	s.finished = true
	s.result = &res
	if res.Step != "" {
		s.step = res.Step
	}
	s.mu.Unlock()

	if err := s.page.Close(); err != nil && !errors.Is(err, browser.ErrPageClosed) {
		logger.Warn("Failed to close tab", zap.Error(err))
	}

	meta := map[string]any{"step": res.Step, "ticket_id": res.TicketID}
	if res.Success {
		logger.Info("Session completed", zap.String("ticket_id", res.TicketID))
		r.emitter.Emit(context.Background(), events.TypeCompleted, s.id, res.TicketID, meta)
		return
	}
	logger.Warn("Session failed", zap.String("step", res.Step), zap.String("error", res.Error))
	r.emitter.Emit(context.Background(), events.TypeFailed, s.id, res.Error, meta)
}

// Get returns the state of session id.
func (r *Registry) Get(id string) (State, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return State{}, ErrNotFound
	}
	return s.state(), nil
}

// List returns every session, oldest first.
func (r *Registry) List() []State {
	r.mu.RLock()
	out := make([]State, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.state())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete cancels the session's run, closes its tab and forgets it.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.cancel()
	if err := s.page.Close(); err != nil && !errors.Is(err, browser.ErrPageClosed) {
		r.logger.Warn("Failed to close tab", zap.String("session_id", id), zap.Error(err))
	}
	r.logger.Info("Session terminated", zap.String("session_id", id))
	return nil
}

// CloseAll deletes every session and waits for their goroutines to return
// or ctx to end.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Delete(id)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
