// Package document implements the versioned envelope every stored
// configuration document is wrapped in: {__version, checksum, updatedAt, data}.
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCorrupt marks stored content that cannot be parsed. Callers treat a
// corrupt document as absent and fall through to the next resolution tier.
var ErrCorrupt = errors.New("corrupt config document")

// Document wraps a configuration payload with optimistic-concurrency
// metadata. Version starts at 1 and increments by exactly 1 only when the
// checksum of the data changes.
type Document struct {
	Version   uint64          `json:"__version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data"`
}

// Canonicalize re-serializes payload with recursively sorted object keys so
// the same logical object always produces the same bytes, regardless of key
// insertion order or which backend it was read from.
func Canonicalize(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		trimmed = json.RawMessage("{}")
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

// Checksum returns the hex sha256 of the canonical serialization of payload.
func Checksum(payload json.RawMessage) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Wrap builds a fresh envelope around payload. When previous is given and its
// checksum matches, the version is reused (idempotent no-op write); otherwise
// the version is previous+1, or 1 for a first write. UpdatedAt is always
// restamped.
func Wrap(payload json.RawMessage, previous *Document) (*Document, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	checksum := hex.EncodeToString(sum[:])

	version := uint64(1)
	if previous != nil {
		if previous.Checksum == checksum {
			version = previous.Version
		} else {
			version = previous.Version + 1
		}
	}
	return &Document{
		Version:   version,
		Checksum:  checksum,
		UpdatedAt: time.Now().UTC(),
		Data:      canonical,
	}, nil
}

// Decode parses stored bytes into a Document. It accepts both the wrapped
// envelope and bare legacy objects from pre-versioning deployments; a legacy
// object is reported as version 1 with a computed checksum. Unparsable
// content returns ErrCorrupt, never a panic or a raw JSON error.
func Decode(raw []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, ErrCorrupt
	}
	_, hasVersion := probe["__version"]
	_, hasData := probe["data"]
	if hasVersion && hasData {
		var doc Document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, ErrCorrupt
		}
		return &doc, nil
	}

	// Legacy bare object: the whole file is the data.
	canonical, err := Canonicalize(trimmed)
	if err != nil {
		return nil, ErrCorrupt
	}
	sum := sha256.Sum256(canonical)
	return &Document{
		Version:  1,
		Checksum: hex.EncodeToString(sum[:]),
		Data:     canonical,
	}, nil
}

// Unwrap returns just the data portion of stored bytes, tolerating both
// wrapped and legacy shapes. Missing content unwraps to an empty object.
func Unwrap(raw []byte) (json.RawMessage, error) {
	doc, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return json.RawMessage("{}"), nil
	}
	return doc.Data, nil
}

// Encode serializes the envelope for storage.
func Encode(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode config document: %w", err)
	}
	return data, nil
}
