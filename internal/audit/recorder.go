// ABOUTME: Non-persistent Recorder implementations
// ABOUTME: Discard for deployments with auditing off, Collector for tests

package audit

import "sync"

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Event) {}

// Collector keeps events in memory, synchronously.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Record appends e.
func (c *Collector) Record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a snapshot in record order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}
