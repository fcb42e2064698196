package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumehealth/lume-sync/internal/mutations"
	"github.com/lumehealth/lume-sync/pkg/backend"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
)

// resourceHandler is the shared chassis behind every kind handler: decode
// the stored payload into its wire shape, pick create vs update from the
// record's remote id, and read the assigned id out of the response.
type resourceHandler struct {
	client    Client
	kind      enums.MutationKind
	path      string
	resource  string
	updatable bool
}

// NewProgressHandler syncs progress entries.
func NewProgressHandler(client Client) Handler {
	return &resourceHandler{
		client:    client,
		kind:      enums.KindProgressEntry,
		path:      "/api/v1/progress",
		resource:  "entry",
		updatable: true,
	}
}

// NewMoodHandler syncs mood entries.
func NewMoodHandler(client Client) Handler {
	return &resourceHandler{
		client:    client,
		kind:      enums.KindMoodEntry,
		path:      "/api/v1/moods",
		resource:  "mood",
		updatable: true,
	}
}

// NewGoalHandler syncs goals.
func NewGoalHandler(client Client) Handler {
	return &resourceHandler{
		client:    client,
		kind:      enums.KindGoal,
		path:      "/api/v1/goals",
		resource:  "goal",
		updatable: true,
	}
}

// NewMealHandler syncs meal logs.
func NewMealHandler(client Client) Handler {
	return &resourceHandler{
		client:    client,
		kind:      enums.KindMealLog,
		path:      "/api/v1/meals",
		resource:  "meal",
		updatable: true,
	}
}

// NewPhotoRecognitionHandler syncs photo recognitions. The backend exposes
// no update endpoint for recognitions, so edits re-send the create with the
// record's original idempotency key and the backend upserts.
func NewPhotoRecognitionHandler(client Client) Handler {
	return &resourceHandler{
		client:   client,
		kind:     enums.KindPhotoRecognition,
		path:     "/api/v1/photo-recognitions",
		resource: "recognition",
	}
}

func (h *resourceHandler) Kind() enums.MutationKind {
	return h.kind
}

func (h *resourceHandler) Upload(ctx context.Context, record *models.MutationRecord, token string) (string, error) {
	if record == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "record required")
	}

	payload, err := mutations.DecodePayload(h.kind, record.Payload)
	if err != nil {
		return "", err
	}

	req := backend.Request{
		Path:  h.path,
		Token: token,
		Body:  payload,
	}

	var data json.RawMessage
	switch {
	case record.RemoteID == nil:
		req.IdempotencyKey = record.ID.String()
		data, err = h.client.Create(ctx, req)
	case h.updatable:
		req.Path = fmt.Sprintf("%s/%s", h.path, *record.RemoteID)
		data, err = h.client.Update(ctx, req)
	default:
		req.IdempotencyKey = record.ID.String()
		data, err = h.client.Create(ctx, req)
	}
	if err != nil {
		return "", err
	}

	return extractRemoteID(data, h.resource)
}

// extractRemoteID reads data.<resource>.id from a decoded response
// envelope. A confirmed upload without an id is a contract break, reported
// as an integrity error rather than retried.
func extractRemoteID(data json.RawMessage, resource string) (string, error) {
	var envelope map[string]struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeIntegrity, err, "decode upload response")
	}

	id := strings.TrimSpace(envelope[resource].ID)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeIntegrity, fmt.Sprintf("upload response missing %s id", resource))
	}
	return id, nil
}
