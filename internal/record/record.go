// Package record provides data structures for pending field records.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies which remote entity a pending record creates.
type Kind string

const (
	// KindSurvey is a site survey record (POST /api/surveys).
	KindSurvey Kind = "survey"
	// KindObservation is a field observation record (POST /api/observations).
	KindObservation Kind = "observation"
	// KindPhoto is a photo attachment (POST /api/observations/{id}/photos).
	KindPhoto Kind = "photo"
)

// Valid reports whether k is one of the known record kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSurvey, KindObservation, KindPhoto:
		return true
	}
	return false
}

// PendingRecord is a locally buffered create that has not yet been
// acknowledged by the remote server.
//
// A record is either pending (present in the queue) or removed after a
// successful replay; no partial/half-synced state is retained. The LocalID
// is assigned at enqueue time and doubles as the idempotency key sent with
// the remote write, so a replay after a success-but-unacknowledged response
// can be deduplicated server-side.
type PendingRecord struct {
	// LocalID is the locally-unique placeholder id (UUIDv4).
	LocalID string `json:"local_id"`

	// Kind tags the entity type: survey, observation, or photo.
	Kind Kind `json:"kind"`

	// Payload is the entity body exactly as it will be sent to the server.
	// Empty for photo records.
	Payload json.RawMessage `json:"payload,omitempty"`

	// ObservationID is the upload target for photo records.
	ObservationID string `json:"observation_id,omitempty"`

	// PhotoPath is the local file uploaded as multipart form data.
	// Only set for photo records.
	PhotoPath string `json:"photo_path,omitempty"`

	// CreatedAt is when the record was captured in the field.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the PendingRecord is well-formed for its kind.
func (r *PendingRecord) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	switch r.Kind {
	case KindPhoto:
		if r.ObservationID == "" {
			return fmt.Errorf("observation_id is required for photo records")
		}
		if r.PhotoPath == "" {
			return fmt.Errorf("photo_path is required for photo records")
		}
	default:
		if len(r.Payload) == 0 {
			return fmt.Errorf("payload is required for %s records", r.Kind)
		}
		if !json.Valid(r.Payload) {
			return fmt.Errorf("payload for %s record is not valid JSON", r.Kind)
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (r *PendingRecord) SetDefaults() {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// Filename returns the canonical spool filename for this record: {local_id}.json
func (r *PendingRecord) Filename() string {
	return fmt.Sprintf("%s.json", r.LocalID)
}

// ReadSpoolFile reads and parses a record JSON file from the given path.
//
// Spool files are how the field application hands records to the sync
// agent: one JSON document per record, dropped into the watched spool
// directory.
func ReadSpoolFile(path string) (*PendingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}

	var rec PendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record file %s: %w", path, err)
	}
	rec.SetDefaults()

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record file %s: %w", path, err)
	}

	return &rec, nil
}

// WriteSpoolFile writes a PendingRecord to spoolDir as pretty-printed JSON.
func WriteSpoolFile(spoolDir string, rec *PendingRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid record: %w", err)
	}

	if err := os.MkdirAll(spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.LocalID, err)
	}

	path := filepath.Join(spoolDir, rec.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", path, err)
	}

	return nil
}

// ReadAllSpoolFiles reads all record files from the given directory.
// Invalid files are skipped with a warning to stderr.
func ReadAllSpoolFiles(spoolDir string) ([]*PendingRecord, error) {
	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*PendingRecord{}, nil // Empty spool is valid
		}
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}

	var records []*PendingRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(spoolDir, entry.Name())
		rec, err := ReadSpoolFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid record file %s: %v\n", entry.Name(), err)
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}
