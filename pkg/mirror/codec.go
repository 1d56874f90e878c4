package mirror

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// SnapshotVersion is the envelope version written by PutJSON.
const SnapshotVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// PutJSON stores v as {"version":SnapshotVersion,"data":v}.
func PutJSON(ctx context.Context, m Mirror, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "could not encode %s", key)
	}
	b, err := json.Marshal(envelope{Version: SnapshotVersion, Data: data})
	if err != nil {
		return errors.Wrapf(err, "could not encode %s envelope", key)
	}
	return m.Put(ctx, key, b)
}

// GetJSON loads the value stored under key into v and reports whether the
// key existed. Values written before envelopes were introduced (a bare JSON
// object without "version" and "data") are read as version 1.
func GetJSON(ctx context.Context, m Mirror, key string, v any) (bool, error) {
	b, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	data, err := unwrap(b)
	if err != nil {
		return true, errors.Wrapf(err, "could not decode %s", key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, errors.Wrapf(err, "could not decode %s", key)
	}
	return true, nil
}

func unwrap(b []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	rawVersion, hasVersion := fields["version"]
	data, hasData := fields["data"]
	if !hasVersion || !hasData {
		return b, nil
	}

	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return nil, errors.Wrap(err, "invalid envelope version")
	}
	if version < 1 || version > SnapshotVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", version)
	}
	return data, nil
}
