package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"ticketbot/internal/config"
)

type failingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (f *failingPublisher) Publish(context.Context, CanonicalEvent) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestNewEventID(t *testing.T) {
	ts := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	a := NewEventID("evt_", ts)
	b := NewEventID("evt_", ts)
	assert.True(t, strings.HasPrefix(a, "evt_20250304_"))
	assert.Len(t, a, len("evt_20250304_")+16)
	assert.NotEqual(t, a, b)
}

func TestNew(t *testing.T) {
	evt := New(TypeStep, "1700000000000", "login", map[string]any{"step": "login"})
	assert.True(t, evt.MinimalValidate())
	assert.Equal(t, Source, evt.Source)
	assert.Equal(t, "1700000000000", evt.Context.SessionID)

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "automation.step", decoded["type"])
	assert.Equal(t, map[string]any{"session_id": "1700000000000"}, decoded["context"])
}

func TestMinimalValidate(t *testing.T) {
	evt := CanonicalEvent{Source: Source, Type: TypeStarted, Timestamp: time.Now()}
	assert.False(t, evt.MinimalValidate())
	evt.EventID = "evt_x"
	assert.True(t, evt.MinimalValidate())
}

func TestNewPublisher_NoURLIsNoop(t *testing.T) {
	pub, err := NewPublisher(config.EventsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, Noop{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), CanonicalEvent{}))
	assert.NoError(t, pub.Close())
}

func TestNewPublisher_UnreachableServer(t *testing.T) {
	_, err := NewPublisher(config.EventsConfig{NATSURL: "nats://127.0.0.1:1"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestEmitter_LogsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &failingPublisher{}
	e := NewEmitter(pub, zap.New(core))

	e.Emit(context.Background(), TypeFailed, "42", "boom", nil)

	assert.Equal(t, 1, pub.calls)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Failed to publish event", entry.Message)
	assert.Equal(t, "42", entry.ContextMap()["session_id"])
}

func TestEmitter_NilPublisher(t *testing.T) {
	e := NewEmitter(nil, zaptest.NewLogger(t))
	assert.NotPanics(t, func() { e.Emit(context.Background(), TypeStarted, "1", "", nil) })
}
