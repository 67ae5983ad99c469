package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// A MapEntry pairs a key and value, used to seed an OrderedMap from a
// pre-sorted slice without losing the insertion order the caller chose.
type MapEntry[K comparable, V any] struct {
	Key   K
	Value V
}

// OrderedMap behaves like a map[K]V but remembers insertion order, so that
// iterating it (via Entries) is deterministic across runs. This matters for
// the Jack lowerer: label counters are derived from the order classes are
// visited, and Go's built-in map iteration order is randomized.
type OrderedMap[K comparable, V any] struct {
	index map[K]int
	order []K
	store map[K]V
}

// NewOrderedMapFromList builds an OrderedMap preserving the order of entries.
func NewOrderedMapFromList[K comparable, V any](entries []MapEntry[K, V]) OrderedMap[K, V] {
	om := OrderedMap[K, V]{
		index: make(map[K]int, len(entries)),
		order: make([]K, 0, len(entries)),
		store: make(map[K]V, len(entries)),
	}
	for _, e := range entries {
		om.Set(e.Key, e.Value)
	}
	return om
}

// Set inserts or updates the value for key, appending to the insertion
// order only the first time the key is seen.
func (om *OrderedMap[K, V]) Set(key K, value V) {
	if om.store == nil {
		om.store = map[K]V{}
		om.index = map[K]int{}
	}
	if _, found := om.index[key]; !found {
		om.index[key] = len(om.order)
		om.order = append(om.order, key)
	}
	om.store[key] = value
}

// Get returns the value for key and whether it was present.
func (om OrderedMap[K, V]) Get(key K) (V, bool) {
	v, found := om.store[key]
	return v, found
}

// Size returns the number of entries currently stored.
func (om OrderedMap[K, V]) Size() int { return len(om.order) }

// Entries returns the stored values in insertion order.
func (om OrderedMap[K, V]) Entries() []V {
	values := make([]V, 0, len(om.order))
	for _, key := range om.order {
		values = append(values, om.store[key])
	}
	return values
}

// Keys returns the stored keys in insertion order.
func (om OrderedMap[K, V]) Keys() []K {
	keys := make([]K, len(om.order))
	copy(keys, om.order)
	return keys
}

// MarshalJSON renders the map as a JSON object, writing keys in insertion order.
func (om OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, key := range om.order {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(fmt.Sprintf("%v", key))
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := json.Marshal(om.store[key])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object into the map, preserving the key order found in the
// source document. Plain 'encoding/json' decoding into a Go map discards that order, which
// would make the standard library ABI (embedded as JSON) iterate its fields/subroutines in
// a different, non-reproducible order every run.
func (om *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, found %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		keyStr, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string object key, found %v", keyTok)
		}

		var value V
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("error decoding value for key '%s': %w", keyStr, err)
		}

		key, ok := any(keyStr).(K)
		if !ok {
			return fmt.Errorf("OrderedMap key type must be string-compatible to unmarshal from JSON")
		}
		om.Set(key, value)
	}

	return nil
}
