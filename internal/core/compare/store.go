// Package compare holds the per-path comparison state of both trees and the
// passes that fill it in: metadata, exhaustive content and size/mtime lite.
package compare

import (
	"sort"

	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/flist"
)

// Record is the comparison state of one path on one side.
type Record struct {
	// Index is the entry's position in the owning side's local list
	Index  int
	States [domain.NumFields]domain.State
}

// Store maps relative paths of one side's local shard to their state.
// A Store is owned by a single rank and is not safe for concurrent use.
type Store struct {
	keys    []string
	records map[string]*Record
}

// NewStore creates one all-INIT record per entry of list, keyed by the path
// with prefix stripped.
func NewStore(list *flist.List, prefix string) *Store {
	s := &Store{
		keys:    make([]string, 0, list.Size()),
		records: make(map[string]*Record, list.Size()),
	}
	for i := 0; i < list.Size(); i++ {
		key := domain.RelPath(list.Name(i), prefix)
		if _, dup := s.records[key]; !dup {
			s.keys = append(s.keys, key)
		}
		s.records[key] = &Record{Index: i}
	}
	sort.Strings(s.keys)
	return s
}

// Len returns the number of keys.
func (s *Store) Len() int { return len(s.keys) }

// Keys returns every key in ascending order. The slice must not be modified.
func (s *Store) Keys() []string { return s.keys }

// Update sets one field of key. It reports false, changing nothing, when key
// is absent.
func (s *Store) Update(key string, f domain.Field, st domain.State) bool {
	r, ok := s.records[key]
	if !ok {
		return false
	}
	r.States[f] = st
	return true
}

// Index returns the list index stored for key.
func (s *Store) Index(key string) (int, bool) {
	r, ok := s.records[key]
	if !ok {
		return 0, false
	}
	return r.Index, true
}

// State returns one field's state for key.
func (s *Store) State(key string, f domain.Field) (domain.State, bool) {
	r, ok := s.records[key]
	if !ok {
		return domain.StateInit, false
	}
	return r.States[f], true
}

// Lookup returns a copy of the whole record for key.
func (s *Store) Lookup(key string) (Record, bool) {
	r, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// setBoth writes the same state into both stores.
func setBoth(src, dst *Store, key string, f domain.Field, st domain.State) {
	src.Update(key, f, st)
	dst.Update(key, f, st)
}
