// Package audit defines the audit event model and the buffered dispatcher
// used by the engine. Sinks are caller-supplied; the dispatcher guarantees
// emission order per event source but not cross-goroutine ordering.
package audit
