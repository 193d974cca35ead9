package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// TypeRegistry maps an envelope_type string to a runtime type, used
// once per payload deserialization. Entries are registered explicitly
// at startup — never discovered by scanning loaded packages — per the
// spec §9 design note ruling out runtime type scanning.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]reflect.Type)}
}

// Register associates envelopeType with the type of sample. sample is
// only used to capture its type — e.g. Register("order.created", OrderCreated{}).
func (r *TypeRegistry) Register(envelopeType string, sample any) {
	t := reflect.TypeOf(sample)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[envelopeType] = t
}

// Lookup returns the registered reflect.Type for envelopeType, if any.
func (r *TypeRegistry) Lookup(envelopeType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[envelopeType]
	return t, ok
}

// Decode unmarshals payload into a freshly allocated instance of the
// type registered for envelopeType. Returns a SerializationError-kind
// CoordinatorError if the type is unknown or unmarshaling fails.
func (r *TypeRegistry) Decode(envelopeType string, payload json.RawMessage) (any, error) {
	t, ok := r.Lookup(envelopeType)
	if !ok {
		return nil, NewCoordinatorError(ErrKindSerializationError,
			fmt.Sprintf("no type registered for envelope_type %q", envelopeType), nil)
	}
	v := reflect.New(t)
	if err := json.Unmarshal(payload, v.Interface()); err != nil {
		return nil, NewCoordinatorError(ErrKindSerializationError,
			fmt.Sprintf("decoding payload for envelope_type %q", envelopeType), err)
	}
	return v.Interface(), nil
}
