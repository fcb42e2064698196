package mutations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Payload is the decoded, kind-specific body of a mutation. Each kind
// contributes the one-line summary and the user-facing timestamp that ride
// along in the outbox event metadata.
type Payload interface {
	Summary() string
	OccurredAt(now time.Time) time.Time
}

// ProgressPayload captures one health metric sample.
type ProgressPayload struct {
	Metric   string          `json:"metric" validate:"required,oneof=steps heart_rate weight sleep water calories_burned"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
	Unit     string          `json:"unit,omitempty" validate:"omitempty,max=16"`
	LoggedAt time.Time       `json:"logged_at" validate:"required"`
	Notes    string          `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (p *ProgressPayload) Validate() error {
	if p.Quantity.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}
	return nil
}

func (p *ProgressPayload) Summary() string {
	if p.Unit != "" {
		return fmt.Sprintf("%s %s %s", p.Metric, p.Quantity.String(), p.Unit)
	}
	return fmt.Sprintf("%s %s", p.Metric, p.Quantity.String())
}

func (p *ProgressPayload) OccurredAt(time.Time) time.Time {
	return p.LoggedAt
}

// MoodPayload captures one mood check-in.
type MoodPayload struct {
	Mood      string    `json:"mood" validate:"required,oneof=great good neutral low bad"`
	Intensity int       `json:"intensity,omitempty" validate:"omitempty,min=1,max=10"`
	LoggedAt  time.Time `json:"logged_at" validate:"required"`
	Notes     string    `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (p *MoodPayload) Summary() string {
	if p.Intensity > 0 {
		return fmt.Sprintf("mood %s (%d/10)", p.Mood, p.Intensity)
	}
	return fmt.Sprintf("mood %s", p.Mood)
}

func (p *MoodPayload) OccurredAt(time.Time) time.Time {
	return p.LoggedAt
}

// GoalPayload captures a health goal definition or edit.
type GoalPayload struct {
	GoalType     string           `json:"goal_type" validate:"required,max=64"`
	Title        string           `json:"title" validate:"required,max=200"`
	Description  string           `json:"description,omitempty" validate:"omitempty,max=1000"`
	TargetValue  *decimal.Decimal `json:"target_value,omitempty"`
	TargetUnit   string           `json:"target_unit,omitempty" validate:"omitempty,max=16"`
	CurrentValue *decimal.Decimal `json:"current_value,omitempty"`
	StartDate    *time.Time       `json:"start_date,omitempty"`
	TargetDate   *time.Time       `json:"target_date,omitempty"`
}

func (p *GoalPayload) Validate() error {
	if p.StartDate != nil && p.TargetDate != nil && !p.TargetDate.After(*p.StartDate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "target_date must be after start_date")
	}
	return nil
}

func (p *GoalPayload) Summary() string {
	return fmt.Sprintf("goal %s", p.Title)
}

func (p *GoalPayload) OccurredAt(now time.Time) time.Time {
	if p.StartDate != nil {
		return *p.StartDate
	}
	return now
}

// MealPayload captures one logged meal with optional macros.
type MealPayload struct {
	Name       string           `json:"name" validate:"required,max=200"`
	Calories   decimal.Decimal  `json:"calories,omitempty"`
	ProteinG   *decimal.Decimal `json:"protein_g,omitempty"`
	CarbsG     *decimal.Decimal `json:"carbs_g,omitempty"`
	FatG       *decimal.Decimal `json:"fat_g,omitempty"`
	ConsumedAt time.Time        `json:"consumed_at" validate:"required"`
	Notes      string           `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (p *MealPayload) Validate() error {
	if p.Calories.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "calories cannot be negative")
	}
	for name, value := range map[string]*decimal.Decimal{
		"protein_g": p.ProteinG,
		"carbs_g":   p.CarbsG,
		"fat_g":     p.FatG,
	} {
		if value != nil && value.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s cannot be negative", name))
		}
	}
	return nil
}

func (p *MealPayload) Summary() string {
	if p.Calories.IsZero() {
		return fmt.Sprintf("meal %s", p.Name)
	}
	return fmt.Sprintf("meal %s (%s kcal)", p.Name, p.Calories.String())
}

func (p *MealPayload) OccurredAt(time.Time) time.Time {
	return p.ConsumedAt
}

// PhotoRecognitionPayload captures the device-side result of a food photo scan.
type PhotoRecognitionPayload struct {
	ImageDigest string                `json:"image_digest" validate:"required,len=64,hexadecimal"`
	CapturedAt  time.Time             `json:"captured_at" validate:"required"`
	Items       []PhotoRecognizedItem `json:"items,omitempty" validate:"omitempty,max=50,dive"`
}

// PhotoRecognizedItem is one labeled food candidate in a recognition result.
type PhotoRecognizedItem struct {
	Label      string           `json:"label" validate:"required,max=100"`
	Confidence decimal.Decimal  `json:"confidence,omitempty"`
	Calories   *decimal.Decimal `json:"calories,omitempty"`
}

func (p *PhotoRecognitionPayload) Validate() error {
	one := decimal.NewFromInt(1)
	for _, item := range p.Items {
		if item.Confidence.IsNegative() || item.Confidence.GreaterThan(one) {
			return pkgerrors.New(pkgerrors.CodeValidation, "item confidence must be between 0 and 1")
		}
		if item.Calories != nil && item.Calories.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "item calories cannot be negative")
		}
	}
	return nil
}

func (p *PhotoRecognitionPayload) Summary() string {
	return fmt.Sprintf("photo %s (%d items)", p.ImageDigest[:8], len(p.Items))
}

func (p *PhotoRecognitionPayload) OccurredAt(time.Time) time.Time {
	return p.CapturedAt
}

// DecodePayload parses and validates a raw payload against the kind's schema.
func DecodePayload(kind enums.MutationKind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payload is required")
	}

	var dest Payload
	switch kind {
	case enums.KindProgressEntry:
		dest = &ProgressPayload{}
	case enums.KindMoodEntry:
		dest = &MoodPayload{}
	case enums.KindGoal:
		dest = &GoalPayload{}
	case enums.KindMealLog:
		dest = &MealPayload{}
	case enums.KindPhotoRecognition:
		dest = &PhotoRecognitionPayload{}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown mutation kind %q", kind))
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payload").WithDetails(map[string]any{"error": err.Error()})
	}

	if err := validate.Struct(dest); err != nil {
		return nil, formatValidationErrors(err)
	}

	if v, ok := dest.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}

	return dest, nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "payload validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "hexadecimal":
		return "must be hexadecimal"
	}
	return "is invalid"
}
