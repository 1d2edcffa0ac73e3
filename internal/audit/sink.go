// ABOUTME: Bounded asynchronous audit sink that swallows write failures
// ABOUTME: Record enqueues without blocking; one worker appends to the store

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pengfeipang/aizn/internal/clock"
	"github.com/pengfeipang/aizn/internal/metrics"
	"github.com/pengfeipang/aizn/internal/store"
)

const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// Appender is the store capability the sink writes through.
type Appender interface {
	AppendAuditEvent(ctx context.Context, e *store.AuditEvent) error
}

// Recorder accepts audit events. Implementations must not block or fail.
type Recorder interface {
	Record(e Event)
}

// Event is one auditable action as reported by a domain service.
type Event struct {
	Action  store.AuditAction
	AgentID string // empty when no agent is involved
	OwnerID string
	Request RequestInfo
	Detail  map[string]any
}

// SinkConfig tunes the sink. Zero values take the defaults.
type SinkConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
	Clock        clock.Clock
}

// Sink is the asynchronous Recorder backed by a store.
type Sink struct {
	appender     Appender
	queue        chan *store.AuditEvent
	writeTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSink starts the worker goroutine. Call Close to flush and stop it.
func NewSink(appender Appender, cfg SinkConfig, logger *slog.Logger) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	s := &Sink{
		appender:     appender,
		queue:        make(chan *store.AuditEvent, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		clock:        cfg.Clock,
		logger:       logger.With("component", "audit"),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// Record queues e for writing. The timestamp is taken now, not at write time.
func (s *Sink) Record(e Event) {
	rec := &store.AuditEvent{
		Action:    e.Action,
		AgentID:   optional(e.AgentID),
		OwnerID:   optional(e.OwnerID),
		IPAddress: e.Request.IP,
		UserAgent: e.Request.UserAgent,
		Detail:    e.Detail,
		CreatedAt: s.clock.Now().UTC(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(rec, "sink closed")
		return
	}

	select {
	case s.queue <- rec:
	default:
		s.drop(rec, "queue full")
	}
}

func (s *Sink) drop(rec *store.AuditEvent, reason string) {
	metrics.AuditEvents.WithLabelValues(metrics.ResultDropped).Inc()
	s.logger.Warn("dropped audit event", "action", rec.Action, "agent_id", deref(rec.AgentID), "reason", reason)
}

func (s *Sink) run() {
	defer close(s.done)
	for rec := range s.queue {
		s.write(rec)
	}
}

func (s *Sink) write(rec *store.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.appender.AppendAuditEvent(ctx, rec); err != nil {
		metrics.AuditEvents.WithLabelValues(metrics.ResultFailure).Inc()
		s.logger.Error("failed to write audit event",
			"action", rec.Action,
			"agent_id", deref(rec.AgentID),
			"error", err)
		return
	}
	metrics.AuditEvents.WithLabelValues(metrics.ResultSuccess).Inc()
}

// Close stops accepting events and waits for the queue to drain, or for ctx
// to end. It is safe to call multiple times.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
