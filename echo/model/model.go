// Package model folds ordered mutation envelopes into item state through pluggable per-type reducers.
package model

import (
	"errors"
	"fmt"

	"github.com/dxos/dxos-sub075/echo/mutation"
)

var (
	ErrUnknownModel  = errors.New("unknown model type")
	ErrItemNotFound  = errors.New("item not found")
	ErrItemDeleted   = errors.New("item deleted")
	ErrClockOverflow = errors.New("lamport clock overflow")
)

// Message is an envelope with its position in the party
type Message struct {
	FeedKey  string
	Seq      uint64
	Envelope *mutation.MutationEnvelope
}

func (m Message) Stamp() Stamp {
	return Stamp{Clock: m.Envelope.Clock, FeedKey: m.FeedKey, Seq: m.Seq}
}

// Model is a reducer bound to one item. Calls are serialized by the runtime.
type Model interface {
	// ProcessMessage applies the envelope mutation, an error wrapping mutation.ErrDecode marks the item as errored
	ProcessMessage(msg Message) error
	// State returns a deep copy of the current state
	State() map[string]any
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

type Factory func() Model

// Registry resolves item types to model factories, it's immutable after construction
type Registry struct {
	factories map[string]Factory
}

func NewRegistry(factories map[string]Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for typ, f := range factories {
		r.factories[typ] = f
	}
	return r
}

// DefaultRegistry knows the object model only
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Factory{
		ObjectModelType: NewObjectModel,
	})
}

func (r *Registry) Has(typ string) bool {
	_, ok := r.factories[typ]
	return ok
}

func (r *Registry) New(typ string) (Model, error) {
	f, ok := r.factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, typ)
	}
	return f(), nil
}

// Stamp orders writes across replicas: by clock, then feed key, then seq
type Stamp struct {
	Clock   uint64
	FeedKey string
	Seq     uint64
}

func (s Stamp) Less(o Stamp) bool {
	if s.Clock != o.Clock {
		return s.Clock < o.Clock
	}
	if s.FeedKey != o.FeedKey {
		return s.FeedKey < o.FeedKey
	}
	return s.Seq < o.Seq
}

func (s Stamp) IsZero() bool {
	return s == Stamp{}
}
