package domain

import "time"

// AuditLogEntry records one inbound HTTP call. Entries are append-only.
type AuditLogEntry struct {
	RequestID      string
	ClientID       string
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs int64
	Timestamp      time.Time
}
