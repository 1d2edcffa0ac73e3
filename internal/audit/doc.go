// Package audit records security-relevant agent actions without putting the
// store on the request path.
//
// Callers hand events to a Sink with Record, which never blocks and never
// fails. A single worker drains a bounded queue into the store. When the
// queue is full the event is dropped; when the store write fails the error
// is logged. Either way the caller's operation has already succeeded and is
// not affected.
//
//	sink := audit.NewSink(st, audit.SinkConfig{QueueSize: 1024}, logger)
//	defer sink.Close(ctx)
//	sink.Record(audit.Event{Action: store.AuditAgentRegister, AgentID: id, Request: info})
package audit
