package enums

import "fmt"

// FailureReason maps to the failure_reason column on terminally failed
// outbox events.
type FailureReason string

const (
	FailureReasonRejected       FailureReason = "rejected"
	FailureReasonMaxAttempts    FailureReason = "max_attempts"
	FailureReasonOrphanedRecord FailureReason = "orphaned_record"
)

var validFailureReasons = []FailureReason{
	FailureReasonRejected,
	FailureReasonMaxAttempts,
	FailureReasonOrphanedRecord,
}

// IsValid reports whether the value matches the canonical failure_reason enum.
func (r FailureReason) IsValid() bool {
	for _, candidate := range validFailureReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseFailureReason converts raw input into FailureReason.
func ParseFailureReason(value string) (FailureReason, error) {
	for _, candidate := range validFailureReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid failure reason %q", value)
}
