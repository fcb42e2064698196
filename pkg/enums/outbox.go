package enums

import "fmt"

// OutboxEventStatus maps to the status column on outbox_events.
//
// pending and processing are the live states; completed and failed are
// terminal. At most one live event may exist per entity at a time.
type OutboxEventStatus string

const (
	OutboxStatusPending    OutboxEventStatus = "pending"
	OutboxStatusProcessing OutboxEventStatus = "processing"
	OutboxStatusCompleted  OutboxEventStatus = "completed"
	OutboxStatusFailed     OutboxEventStatus = "failed"
)

var validOutboxEventStatuses = []OutboxEventStatus{
	OutboxStatusPending,
	OutboxStatusProcessing,
	OutboxStatusCompleted,
	OutboxStatusFailed,
}

// IsValid reports whether the value matches the canonical status enum.
func (s OutboxEventStatus) IsValid() bool {
	for _, candidate := range validOutboxEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsLive reports whether the status still holds the per-entity slot.
func (s OutboxEventStatus) IsLive() bool {
	return s == OutboxStatusPending || s == OutboxStatusProcessing
}

// IsTerminal reports whether the status admits no further transitions.
func (s OutboxEventStatus) IsTerminal() bool {
	return s == OutboxStatusCompleted || s == OutboxStatusFailed
}

// ParseOutboxEventStatus converts raw input into OutboxEventStatus.
func ParseOutboxEventStatus(value string) (OutboxEventStatus, error) {
	for _, candidate := range validOutboxEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event status %q", value)
}
