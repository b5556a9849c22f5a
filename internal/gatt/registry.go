package gatt

import (
	"github.com/cornelk/hashmap"
)

// Registry is the append-only, insertion-ordered collection of discovered
// characteristics for one session.
//
// The ordered arena backs the processing cursor (a plain index, so there is
// no traversal pointer to invalidate), while the lock-free handle index
// serves notification lookups: value-change events may need resolving while
// Stop is flipping the session down from another goroutine, so the index
// must tolerate concurrent readers.
type Registry struct {
	records  []*CharacteristicRecord
	byHandle *hashmap.Map[uint16, *CharacteristicRecord]
}

func NewRegistry() *Registry {
	return &Registry{
		byHandle: hashmap.New[uint16, *CharacteristicRecord](),
	}
}

// Add appends a record. Entries are never removed individually; a duplicate
// value handle is ignored so a misbehaving server cannot corrupt the index.
func (r *Registry) Add(rec *CharacteristicRecord) bool {
	if _, exists := r.byHandle.Get(rec.ValueHandle); exists {
		return false
	}
	r.records = append(r.records, rec)
	r.byHandle.Set(rec.ValueHandle, rec)
	return true
}

// Len returns the number of discovered characteristics.
func (r *Registry) Len() int { return len(r.records) }

// At returns the record at insertion index i.
func (r *Registry) At(i int) *CharacteristicRecord { return r.records[i] }

// Lookup resolves a record by its value handle. Safe to call concurrently
// with Clear from another goroutine.
func (r *Registry) Lookup(handle uint16) (*CharacteristicRecord, bool) {
	return r.byHandle.Get(handle)
}

// Clear removes all entries at once. Individual removal does not exist.
func (r *Registry) Clear() {
	for _, rec := range r.records {
		r.byHandle.Del(rec.ValueHandle)
	}
	r.records = nil
}
