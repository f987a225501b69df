package storage

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the version written into every enveloped record.
const SchemaVersion = 1

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

// EncodeRecord wraps v in a versioned envelope.
func EncodeRecord(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return json.Marshal(envelope{SchemaVersion: SchemaVersion, Data: data})
}

// DecodeRecord unwraps an envelope written by EncodeRecord into v. A record
// from a newer schema returns ErrSchemaVersion; one that does not parse
// returns ErrCorruptRecord.
func DecodeRecord(raw []byte, v interface{}) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: failed to parse record envelope: %v", ErrCorruptRecord, err)
	}
	if env.SchemaVersion > SchemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, env.SchemaVersion)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: record has no data", ErrCorruptRecord)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: failed to parse record data: %v", ErrCorruptRecord, err)
	}
	return nil
}
