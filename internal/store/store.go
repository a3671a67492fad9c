// Package store implements the annotation store: a durable id -> record
// mapping with last-write-wins upsert semantics and post-commit change
// events. The backend is the single source of truth; every operation
// round-trips to it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pindrop/internal/annotation"
	"pindrop/internal/eventbus"
	"pindrop/internal/storage"
	logx "pindrop/pkg/logx"
)

var (
	// ErrInvalidArgument marks a request rejected before any backend
	// interaction (empty id, short position).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInternal marks a backend failure. The cause is logged, not surfaced.
	ErrInternal = errors.New("internal error")
)

// Store owns annotation persistence. It holds no per-id locks: concurrent
// writers to the same id race and the last backend write wins, ordered by
// the store-stamped updatedAt.
type Store struct {
	backend storage.Backend
	bus     eventbus.Bus
	log     logx.Logger

	now func() time.Time
}

// New wires a store over the given backend. Events are published on bus
// after each successful write; pass eventbus.Nop() to disable fan-out.
func New(backend storage.Backend, bus eventbus.Bus, log logx.Logger) *Store {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{backend: backend, bus: bus, log: log, now: time.Now}
}

// List returns every stored annotation in no particular order.
// Entries whose payload no longer decodes are skipped, not fatal.
func (s *Store) List(ctx context.Context) ([]annotation.Annotation, error) {
	entries, err := s.backend.GetAll(ctx)
	if err != nil {
		return nil, s.internal("list", err)
	}
	out := make([]annotation.Annotation, 0, len(entries))
	for id, value := range entries {
		a, err := annotation.Decode(id, value)
		if err != nil {
			s.log.Debug("skipping undecodable entry", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Create validates and unconditionally writes the record, overwriting any
// prior version. It publishes an "add" event on success.
func (s *Store) Create(ctx context.Context, id string, position []float64, clientID *string) (annotation.Annotation, error) {
	if err := annotation.Validate(id, position); err != nil {
		return annotation.Annotation{}, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	a, err := s.write(ctx, id, position, clientID)
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.bus.Publish(annotation.Event{Kind: annotation.KindAdd, ID: id, Position: position, ClientID: clientID})
	return a, nil
}

// Update is the same unconditional overwrite as Create; the pre-write read
// only feeds the existed flag and never gates the write.
// It publishes an "update" event on success.
func (s *Store) Update(ctx context.Context, id string, position []float64, clientID *string) (annotation.Annotation, bool, error) {
	if err := annotation.Validate(id, position); err != nil {
		return annotation.Annotation{}, false, fmt.Errorf("%w: %s", ErrInvalidArgument, err)
	}
	_, existed, err := s.backend.Get(ctx, id)
	if err != nil {
		return annotation.Annotation{}, false, s.internal("update", err)
	}
	a, err := s.write(ctx, id, position, clientID)
	if err != nil {
		return annotation.Annotation{}, false, err
	}
	s.bus.Publish(annotation.Event{Kind: annotation.KindUpdate, ID: id, Position: position, ClientID: clientID})
	return a, existed, nil
}

// Delete removes the record if present. The "remove" event is published
// whether or not anything was removed; only the flag distinguishes the two.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	removed, err := s.backend.Delete(ctx, id)
	if err != nil {
		return false, s.internal("delete", err)
	}
	s.bus.Publish(annotation.Event{Kind: annotation.KindRemove, ID: id})
	return removed, nil
}

// Count reports the number of stored entries, decodable or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx)
	if err != nil {
		return 0, s.internal("count", err)
	}
	return n, nil
}

func (s *Store) write(ctx context.Context, id string, position []float64, clientID *string) (annotation.Annotation, error) {
	a := annotation.Annotation{
		ID:        id,
		Position:  position,
		UpdatedAt: s.now().UnixMilli(),
		ClientID:  clientID,
	}
	value, err := annotation.Encode(a)
	if err != nil {
		return annotation.Annotation{}, s.internal("encode", err)
	}
	if err := s.backend.Put(ctx, id, value); err != nil {
		return annotation.Annotation{}, s.internal("put", err)
	}
	return a, nil
}

func (s *Store) internal(op string, cause error) error {
	s.log.Error("backend operation failed", logx.String("op", op), logx.Err(cause))
	return ErrInternal
}
