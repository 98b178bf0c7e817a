// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldDriver        = "driver"
	FieldPrefix        = "prefix"
	FieldAddress       = "address"
	FieldKey           = "key"
	FieldTimerID       = "timer_id"

	FieldEvent     = "event"
	FieldComponent = "component"

	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
