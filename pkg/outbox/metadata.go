package outbox

import (
	"encoding/json"
	"time"
)

// MetadataVersion tags the snapshot schema stored on events.
const MetadataVersion = 1

// Metadata is the denormalized snapshot stored beside each event so
// diagnostics can describe the work without loading the record payload.
type Metadata struct {
	Version    int       `json:"version"`
	Summary    string    `json:"summary,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func EncodeMetadata(meta Metadata) (json.RawMessage, error) {
	if meta.Version == 0 {
		meta.Version = MetadataVersion
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	var meta Metadata
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}
