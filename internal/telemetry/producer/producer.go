// Package producer streams audit records to a message broker for downstream forwarding.
package producer

import "careportal/internal/telemetry"

// Producer emits audit records and owns a broker connection.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes pending writes and releases the connection. Safe to call if already closed.
	Close() error
}
