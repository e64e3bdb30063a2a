// Package typedmap adapts diskmap.Map to typed keys and values via a pair
// of codecs, so callers don't have to marshal bytes by hand at every call
// site.
package typedmap

import (
	"fmt"

	"github.com/calvinalkan/diskmap/pkg/diskmap"
)

// Codec converts a T to and from its byte-string representation for
// storage in a Map.
type Codec[T any] interface {
	Encode(v T) []byte
	Decode(b []byte) (T, error)
}

// Map wraps a *diskmap.Map, encoding/decoding keys and values through the
// supplied codecs on every operation.
type Map[K, V any] struct {
	m        *diskmap.Map
	keyCodec Codec[K]
	valCodec Codec[V]
}

// New wraps an already-open *diskmap.Map. Closing or deleting the
// returned Map closes or deletes the underlying one.
func New[K, V any](m *diskmap.Map, keyCodec Codec[K], valCodec Codec[V]) *Map[K, V] {
	return &Map[K, V]{m: m, keyCodec: keyCodec, valCodec: valCodec}
}

// Size returns the number of live entries.
func (m *Map[K, V]) Size() uint64 {
	return m.m.Size()
}

// Get returns the value for key, and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool, error) {
	var zero V

	raw, found, err := m.m.Get(m.keyCodec.Encode(key))
	if err != nil || !found {
		return zero, found, err
	}

	v, err := m.valCodec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("typedmap: decode value: %w", err)
	}

	return v, true, nil
}

// Put inserts or overwrites key, returning the previous value if any.
func (m *Map[K, V]) Put(key K, val V) (V, bool, error) {
	var zero V

	raw, existed, err := m.m.Put(m.keyCodec.Encode(key), m.valCodec.Encode(val))
	if err != nil || !existed {
		return zero, existed, err
	}

	prev, err := m.valCodec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("typedmap: decode previous value: %w", err)
	}

	return prev, true, nil
}

// PutIfAbsent inserts key only if it is not already present, returning the
// existing value if any.
func (m *Map[K, V]) PutIfAbsent(key K, val V) (V, bool, error) {
	var zero V

	raw, existed, err := m.m.PutIfAbsent(m.keyCodec.Encode(key), m.valCodec.Encode(val))
	if err != nil || !existed {
		return zero, existed, err
	}

	prev, err := m.valCodec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("typedmap: decode existing value: %w", err)
	}

	return prev, true, nil
}

// Replace overwrites key only if it is already present, returning the
// previous value if any.
func (m *Map[K, V]) Replace(key K, val V) (V, bool, error) {
	var zero V

	raw, existed, err := m.m.Replace(m.keyCodec.Encode(key), m.valCodec.Encode(val))
	if err != nil || !existed {
		return zero, existed, err
	}

	prev, err := m.valCodec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("typedmap: decode previous value: %w", err)
	}

	return prev, true, nil
}

// ReplaceMatching overwrites key only if its current value equals oldVal,
// returning whether the replacement happened.
func (m *Map[K, V]) ReplaceMatching(key K, oldVal, newVal V) (bool, error) {
	return m.m.ReplaceMatching(m.keyCodec.Encode(key), m.valCodec.Encode(oldVal), m.valCodec.Encode(newVal))
}

// Remove deletes key unconditionally, returning its previous value if any.
func (m *Map[K, V]) Remove(key K) (V, bool, error) {
	var zero V

	raw, existed, err := m.m.Remove(m.keyCodec.Encode(key))
	if err != nil || !existed {
		return zero, existed, err
	}

	prev, err := m.valCodec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("typedmap: decode removed value: %w", err)
	}

	return prev, true, nil
}

// RemoveMatching deletes key only if its current value equals val,
// returning whether the removal happened.
func (m *Map[K, V]) RemoveMatching(key K, val V) (bool, error) {
	return m.m.RemoveMatching(m.keyCodec.Encode(key), m.valCodec.Encode(val))
}

// Close closes the underlying Map.
func (m *Map[K, V]) Close() error {
	return m.m.Close()
}

// Delete closes and removes the underlying Map's backing files.
func (m *Map[K, V]) Delete() error {
	return m.m.Delete()
}

// Iterator returns a typed iterator over every live entry.
func (m *Map[K, V]) Iterator() (*Iterator[K, V], error) {
	raw, err := m.m.Iterator()
	if err != nil {
		return nil, err
	}

	return &Iterator[K, V]{raw: raw, keyCodec: m.keyCodec, valCodec: m.valCodec}, nil
}

// Iterator walks every live entry of a typed Map, decoding each key and
// value through the Map's codecs.
type Iterator[K, V any] struct {
	raw      *diskmap.Iterator
	keyCodec Codec[K]
	valCodec Codec[V]
	err      error
}

// Next advances the iterator and reports whether a new entry is available.
func (it *Iterator[K, V]) Next() bool {
	return it.raw.Next()
}

// Key decodes the current entry's key.
func (it *Iterator[K, V]) Key() (K, error) {
	var zero K

	k, err := it.keyCodec.Decode(it.raw.Key())
	if err != nil {
		it.err = fmt.Errorf("typedmap: decode key: %w", err)
		return zero, it.err
	}

	return k, nil
}

// Value decodes the current entry's value.
func (it *Iterator[K, V]) Value() (V, error) {
	var zero V

	v, err := it.valCodec.Decode(it.raw.Value())
	if err != nil {
		it.err = fmt.Errorf("typedmap: decode value: %w", err)
		return zero, it.err
	}

	return v, nil
}

// Err returns the first error encountered during iteration, including any
// decode error surfaced by Key or Value.
func (it *Iterator[K, V]) Err() error {
	if it.err != nil {
		return it.err
	}

	return it.raw.Err()
}
