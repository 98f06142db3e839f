package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ticketbot/internal/browser"
	"ticketbot/internal/browser/browsertest"
	"ticketbot/internal/config"
	"ticketbot/internal/resolver"
	"ticketbot/internal/session"
	"ticketbot/internal/workflow"
)

type capturedRun struct {
	mu   sync.Mutex
	reqs []session.Request
}

// run records the request and blocks until the session is cancelled.
func (c *capturedRun) run(ctx context.Context, _ string, _ browser.Page, req session.Request, progress func(string)) workflow.Result {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	progress(workflow.StepLogin)
	<-ctx.Done()
	return workflow.Result{Step: workflow.StepLogin, Error: ctx.Err().Error()}
}

func (c *capturedRun) last() (session.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reqs) == 0 {
		return session.Request{}, false
	}
	return c.reqs[len(c.reqs)-1], true
}

type failingSessions struct{}

func (failingSessions) Start(context.Context, session.Request) (string, error) {
	return "", errors.New("browser unavailable")
}
func (failingSessions) Get(string) (session.State, error) { return session.State{}, session.ErrNotFound }
func (failingSessions) List() []session.State { return nil }
func (failingSessions) Delete(string) error { return session.ErrNotFound }

func newTestServer(t *testing.T, run session.RunFunc, launcher *browsertest.Launcher, defaults config.TicketConfig) (*httptest.Server, *session.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := session.NewRegistry(launcher, run, nil, logger)
	srv := httptest.NewServer(NewServer(reg, defaults, logger).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = reg.CloseAll(context.Background())
	})
	return srv, reg
}

func blankLauncher() *browsertest.Launcher {
	return browsertest.NewLauncher(func() *browsertest.Page {
		return browsertest.NewPage(`<html><body></body></html>`)
	})
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestStart_RequiresCredentials(t *testing.T) {
	srv, _ := newTestServer(t, (&capturedRun{}).run, blankLauncher(), config.TicketConfig{})

	for _, body := range []string{`{}`, `{"email":"a@b.com"}`, `{"password":"x"}`, `{"email":"  ","password":"x"}`} {
		resp, decoded := do(t, http.MethodPost, srv.URL+"/api/automation/start", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, map[string]any{"success": false, "error": "Email and password are required"}, decoded)
	}
}

func TestStart_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, (&capturedRun{}).run, blankLauncher(), config.TicketConfig{})

	resp, decoded := do(t, http.MethodPost, srv.URL+"/api/automation/start", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, decoded["success"])
	assert.Equal(t, "Invalid JSON", decoded["error"])
}

func TestStart_AppliesDefaults(t *testing.T) {
	run := &capturedRun{}
	srv, _ := newTestServer(t, run.run, blankLauncher(), config.TicketConfig{
		Title:      "Sample",
		AssignedTo: "Jane Doe",
	})

	resp, decoded := do(t, http.MethodPost, srv.URL+"/api/automation/start",
		`{"email":"a@b.com","password":"x","customer":"Acme"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, "Automation started successfully", decoded["message"])
	assert.NotEmpty(t, decoded["sessionId"])

	require.Eventually(t, func() bool { _, ok := run.last(); return ok }, 5*time.Second, 5*time.Millisecond)
	req, _ := run.last()
	assert.Equal(t, workflow.Credentials{Email: "a@b.com", Password: "x"}, req.Credentials)
	assert.Equal(t, workflow.Ticket{Title: "Sample", Customer: "Acme", AssignedTo: "Jane Doe"}, req.Ticket)
}

func TestStart_LaunchFailure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv := httptest.NewServer(NewServer(failingSessions{}, config.TicketConfig{}, logger).Handler())
	defer srv.Close()

	resp, decoded := do(t, http.MethodPost, srv.URL+"/api/automation/start", `{"email":"a@b.com","password":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, decoded["success"])
	assert.Contains(t, decoded["error"], "browser unavailable")
}

func TestStatusAndDelete(t *testing.T) {
	launcher := blankLauncher()
	srv, _ := newTestServer(t, (&capturedRun{}).run, launcher, config.TicketConfig{})

	resp, decoded := do(t, http.MethodGet, srv.URL+"/api/automation/status/42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, map[string]any{"success": false, "error": "Automation session not found"}, decoded)

	resp, decoded = do(t, http.MethodDelete, srv.URL+"/api/automation/42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Automation session not found", decoded["error"])

	_, decoded = do(t, http.MethodPost, srv.URL+"/api/automation/start", `{"email":"a@b.com","password":"x"}`)
	id, _ := decoded["sessionId"].(string)
	require.NotEmpty(t, id)

	resp, decoded = do(t, http.MethodGet, srv.URL+"/api/automation/status/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, id, decoded["sessionId"])
	assert.Equal(t, "running", decoded["status"])
	ts, ok := decoded["timestamp"].(float64)
	require.True(t, ok, "timestamp must be a number of milliseconds")
	assert.InDelta(t, float64(time.Now().UnixMilli()), ts, float64(time.Minute.Milliseconds()))

	resp, decoded = do(t, http.MethodDelete, srv.URL+"/api/automation/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"success": true, "message": "Automation session terminated"}, decoded)
	assert.True(t, launcher.Pages()[0].IsClosed())

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/automation/status/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	srv, _ := newTestServer(t, (&capturedRun{}).run, blankLauncher(), config.TicketConfig{})

	_, decoded := do(t, http.MethodPost, srv.URL+"/api/automation/start", `{"email":"a@b.com","password":"x"}`)
	id := decoded["sessionId"]

	resp, decoded := do(t, http.MethodGet, srv.URL+"/api/automation/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, ok := decoded["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].(map[string]any)["sessionId"])
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, (&capturedRun{}).run, blankLauncher(), config.TicketConfig{})

	resp, decoded := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decoded["status"])
	assert.GreaterOrEqual(t, decoded["uptime"], 0.0)
	ts, _ := decoded["timestamp"].(string)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestCORSAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, (&capturedRun{}).run, blankLauncher(), config.TicketConfig{})

	resp, _ := do(t, http.MethodOptions, srv.URL+"/api/automation/start", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")

	resp, _ = do(t, http.MethodGet, srv.URL+"/health", "")
	_, err := uuid.Parse(resp.Header.Get("X-Request-ID"))
	assert.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-123")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, "trace-123", r2.Header.Get("X-Request-ID"))
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv, _ := newTestServer(t, (&capturedRun{}).run, blankLauncher(), config.TicketConfig{})

	resp, decoded := do(t, http.MethodGet, srv.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, decoded["success"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEndToEnd_FakeApp(t *testing.T) {
	app := browsertest.NewApp("a@b.com", "x")
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
	run := session.WorkflowRunner(config.DefaultCatalog(), opts, resolver.Options{PollInterval: 5 * time.Millisecond}, logger)
	srv, _ := newTestServer(t, run, browsertest.NewLauncher(app.Page), config.TicketConfig{})

	resp, decoded := do(t, http.MethodPost, srv.URL+"/api/automation/start",
		`{"email":"a@b.com","password":"x","ticketTitle":"Sample","customer":"Acme","assignedTo":"Jane Doe"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := decoded["sessionId"].(string)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/automation/status/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st statusResponse
		return json.NewDecoder(resp.Body).Decode(&st) == nil && st.Finished
	}, 10*time.Second, 10*time.Millisecond)

	_, st := do(t, http.MethodGet, srv.URL+"/api/automation/status/"+id, "")
	result, ok := st["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, result["success"], result["error"])
	assert.Equal(t, "done", st["step"])

	ticket, ok := app.Ticket("Sample")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", ticket.AssignedTo)
	assert.Equal(t, "Acme", ticket.Customer)
}
