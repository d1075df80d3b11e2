package cache

import (
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Store tracks the stored ids a sync pass has seen.
type Store struct {
	ids        *xsync.Map[string, struct{}]
	unresolved atomic.Int64
}

func NewStore() *Store {
	return &Store{ids: xsync.NewMap[string, struct{}]()}
}

func (s *Store) Mark(id string) {
	s.ids.Store(id, struct{}{})
}

// MarkUnresolved records a payload that failed before its stored id was
// known. Deletion reconciliation cannot trust a pass with such payloads.
func (s *Store) MarkUnresolved() {
	s.unresolved.Add(1)
}

func (s *Store) Unresolved() int {
	return int(s.unresolved.Load())
}

func (s *Store) Has(id string) bool {
	_, ok := s.ids.Load(id)
	return ok
}

func (s *Store) Len() int {
	return s.ids.Size()
}

// Missing returns the ids of known that were not seen, in sorted order.
func (s *Store) Missing(known []string) []string {
	var out []string
	for _, id := range known {
		if !s.Has(id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IDMap remembers the stored id each source record resolved to, so a record
// that later fails to parse still accounts for its entity.
type IDMap struct {
	m *xsync.Map[string, string]
}

func NewIDMap() *IDMap {
	return &IDMap{m: xsync.NewMap[string, string]()}
}

func (m *IDMap) Set(sourceID, storedID string) {
	m.m.Store(sourceID, storedID)
}

func (m *IDMap) Get(sourceID string) (string, bool) {
	return m.m.Load(sourceID)
}

func (m *IDMap) Delete(sourceID string) {
	m.m.Delete(sourceID)
}

func (m *IDMap) Len() int {
	return m.m.Size()
}
