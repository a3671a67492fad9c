// Package annotation defines the point annotation record, its validation
// rules, and the payload format used by the key-value backend.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event kinds forwarded to the broadcast endpoint.
const (
	KindAdd    = "add"
	KindUpdate = "update"
	KindRemove = "remove"
)

var (
	ErrEmptyID       = errors.New("annotation id must not be empty")
	ErrShortPosition = errors.New("annotation position needs at least 2 coordinates")
)

// Annotation is a single point annotation.
//
// UpdatedAt is stamped by the store on every write (unix milliseconds);
// callers never supply it. ClientID is an opaque writer tag and may be nil.
type Annotation struct {
	ID        string    `json:"id"`
	Position  []float64 `json:"position"`
	UpdatedAt int64     `json:"updatedAt"`
	ClientID  *string   `json:"clientId"`
}

// Validate checks the caller-supplied parts of a record.
func Validate(id string, position []float64) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if len(position) < 2 {
		return ErrShortPosition
	}
	return nil
}

// payload is the stored value shape. The backend key is the annotation id,
// so the id is not repeated inside the value.
type payload struct {
	Position  []float64 `json:"position"`
	UpdatedAt int64     `json:"updatedAt"`
	ClientID  *string   `json:"clientId"`
}

// Encode serializes a record into its stored payload.
func Encode(a Annotation) ([]byte, error) {
	return json.Marshal(payload{Position: a.Position, UpdatedAt: a.UpdatedAt, ClientID: a.ClientID})
}

// Decode parses a stored payload back into a record for the given id.
// Payloads that do not decode, or that violate the position invariant,
// are rejected so readers can skip them.
func Decode(id string, value []byte) (Annotation, error) {
	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return Annotation{}, fmt.Errorf("annotation %q: %w", id, err)
	}
	if len(p.Position) < 2 {
		return Annotation{}, fmt.Errorf("annotation %q: %w", id, ErrShortPosition)
	}
	return Annotation{ID: id, Position: p.Position, UpdatedAt: p.UpdatedAt, ClientID: p.ClientID}, nil
}

// Event is the change notification relayed to the broadcast endpoint.
// Position is omitted on remove; ClientID is always present (possibly null).
type Event struct {
	Kind     string    `json:"kind"`
	ID       string    `json:"id"`
	Position []float64 `json:"position,omitempty"`
	ClientID *string   `json:"clientId"`
}
