package enums

import "fmt"

// MutationKind maps to the kind column on mutation_records and outbox_events.
type MutationKind string

const (
	KindProgressEntry    MutationKind = "progress_entry"
	KindMoodEntry        MutationKind = "mood_entry"
	KindGoal             MutationKind = "goal"
	KindMealLog          MutationKind = "meal_log"
	KindPhotoRecognition MutationKind = "photo_recognition"
)

var validMutationKinds = []MutationKind{
	KindProgressEntry,
	KindMoodEntry,
	KindGoal,
	KindMealLog,
	KindPhotoRecognition,
}

// IsValid reports whether the value matches the canonical kind enum.
func (k MutationKind) IsValid() bool {
	for _, candidate := range validMutationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseMutationKind converts raw input into MutationKind.
func ParseMutationKind(value string) (MutationKind, error) {
	for _, candidate := range validMutationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid mutation kind %q", value)
}

// MutationKinds returns the canonical kind list in declaration order.
func MutationKinds() []MutationKind {
	out := make([]MutationKind, len(validMutationKinds))
	copy(out, validMutationKinds)
	return out
}
