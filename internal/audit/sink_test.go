// ABOUTME: Tests for the asynchronous audit sink
// ABOUTME: Covers delivery, drain on close, queue overflow, and swallowed store errors

package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pengfeipang/aizn/internal/clock"
	"github.com/pengfeipang/aizn/internal/metrics"
	"github.com/pengfeipang/aizn/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gatedAppender blocks every write until release is closed.
type gatedAppender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	events []store.AuditEvent
}

func newGatedAppender() *gatedAppender {
	return &gatedAppender{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedAppender) AppendAuditEvent(ctx context.Context, e *store.AuditEvent) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, *e)
	return nil
}

func TestSink_RecordAndClose(t *testing.T) {
	st := store.NewMockStore()
	fake := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := NewSink(st, SinkConfig{QueueSize: 8, Clock: fake}, testLogger())

	sink.Record(Event{
		Action:  store.AuditAgentRegister,
		AgentID: "agent-1",
		Request: RequestInfo{IP: "203.0.113.7", UserAgent: "curl/8.0"},
		Detail:  map[string]any{"agent_name": "alice_bot"},
	})
	sink.Record(Event{Action: store.AuditClaimConfirm, AgentID: "agent-1", OwnerID: "owner-1"})

	require.NoError(t, sink.Close(context.Background()))

	events := st.AuditEvents()
	require.Len(t, events, 2)

	assert.Equal(t, store.AuditAgentRegister, events[0].Action)
	require.NotNil(t, events[0].AgentID)
	assert.Equal(t, "agent-1", *events[0].AgentID)
	assert.Nil(t, events[0].OwnerID)
	assert.Equal(t, "203.0.113.7", events[0].IPAddress)
	assert.Equal(t, "curl/8.0", events[0].UserAgent)
	assert.True(t, fake.Now().Equal(events[0].CreatedAt))

	require.NotNil(t, events[1].OwnerID)
	assert.Equal(t, "owner-1", *events[1].OwnerID)
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	g := newGatedAppender()
	sink := NewSink(g, SinkConfig{QueueSize: 1}, testLogger())

	dropped := metrics.AuditEvents.WithLabelValues(metrics.ResultDropped)
	before := testutil.ToFloat64(dropped)

	// first event occupies the worker
	sink.Record(Event{Action: store.AuditAgentRegister, AgentID: "a1"})
	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the first event")
	}

	sink.Record(Event{Action: store.AuditAgentRegister, AgentID: "a2"}) // queued
	sink.Record(Event{Action: store.AuditAgentRegister, AgentID: "a3"}) // dropped

	assert.Equal(t, before+1, testutil.ToFloat64(dropped))

	close(g.release)
	require.NoError(t, sink.Close(context.Background()))

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.events, 2)
	assert.Equal(t, "a1", *g.events[0].AgentID)
	assert.Equal(t, "a2", *g.events[1].AgentID)
}

func TestSink_SwallowsStoreErrors(t *testing.T) {
	st := store.NewMockStore()
	st.SetAuditError(errors.New("disk full"))
	sink := NewSink(st, SinkConfig{}, testLogger())

	failures := metrics.AuditEvents.WithLabelValues(metrics.ResultFailure)
	before := testutil.ToFloat64(failures)

	assert.NotPanics(t, func() {
		sink.Record(Event{Action: store.AuditClaimView, AgentID: "agent-1"})
	})
	require.NoError(t, sink.Close(context.Background()))

	assert.Empty(t, st.AuditEvents())
	assert.Equal(t, before+1, testutil.ToFloat64(failures))
}

func TestSink_RecordAfterClose(t *testing.T) {
	st := store.NewMockStore()
	sink := NewSink(st, SinkConfig{}, testLogger())
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))

	assert.NotPanics(t, func() {
		sink.Record(Event{Action: store.AuditClaimView})
	})
	assert.Empty(t, st.AuditEvents())
}

func TestSink_CloseHonoursContext(t *testing.T) {
	g := newGatedAppender()
	sink := NewSink(g, SinkConfig{}, testLogger())
	sink.Record(Event{Action: store.AuditClaimView})
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Close(ctx), context.DeadlineExceeded)

	close(g.release)
}
