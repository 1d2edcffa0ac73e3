// ABOUTME: Thread-safe in-memory fixed-window limiter with bounded key count
// ABOUTME: Oldest windows are evicted first; a background goroutine drops expired ones

package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/pengfeipang/aizn/internal/clock"
)

// DefaultMaxKeys bounds the number of live windows held by Memory.
const DefaultMaxKeys = 100_000

// windowEntry counts requests for one key in one window.
type windowEntry struct {
	start   time.Time
	expires time.Time
	count   int
	element *list.Element
}

// Memory is a Limiter holding windows in process memory. Uses a doubly-linked
// list in insertion order for O(1) eviction when full.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*windowEntry
	order   *list.List // keys, oldest at front
	maxKeys int
	clock   clock.Clock
	done    chan struct{}
	closed  bool
}

// NewMemory creates an in-memory limiter. A background goroutine
// periodically removes expired windows until Close is called.
func NewMemory(maxKeys int, clk clock.Clock) *Memory {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if clk == nil {
		clk = clock.Real()
	}
	m := &Memory{
		windows: make(map[string]*windowEntry),
		order:   list.New(),
		maxKeys: maxKeys,
		clock:   clk,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow counts one request for key under rule.
func (m *Memory) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := m.clock.Now()
	start := windowStart(now, rule.Window)
	k := rule.Name + ":" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.windows[k]
	if !ok || !entry.start.Equal(start) {
		if ok {
			m.order.Remove(entry.element)
			delete(m.windows, k)
		}
		if len(m.windows) >= m.maxKeys {
			m.evictOldest()
		}
		entry = &windowEntry{
			start:   start,
			expires: start.Add(rule.Window),
			element: m.order.PushBack(k),
		}
		m.windows[k] = entry
	}

	entry.count++
	remaining := rule.Limit - entry.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   entry.count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   entry.expires,
	}, nil
}

// evictOldest removes the oldest window. Must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.windows, key)
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.done:
			return
		}
	}
}

// runCleanup removes all expired windows.
func (m *Memory) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for key, entry := range m.windows {
		if !now.Before(entry.expires) {
			m.order.Remove(entry.element)
			delete(m.windows, key)
		}
	}
}

// Len returns the number of live windows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
