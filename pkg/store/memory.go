package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"codeberg.org/opendatahub/odhsync/pkg/entity"
	"github.com/google/uuid"
)

// MemoryStore keeps entities, raw records and checkpoints in process. Stored
// entities are kept as JSON so callers never share memory with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	entities    map[string][]byte
	raw         []entity.RawRecord
	checkpoints map[string]time.Time
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    make(map[string][]byte),
		checkpoints: make(map[string]time.Time),
		now:         time.Now,
	}
}

func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func memoryKey(entityType, id string) string {
	return entityType + "/" + id
}

func (s *MemoryStore) Get(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	s.mu.RLock()
	data, ok := s.entities[memoryKey(entityType, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var e entity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", id, err)
	}
	return &e, nil
}

func (s *MemoryStore) UpsertCompare(
	ctx context.Context,
	e *entity.Entity,
	opts CompareOptions,
) (PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(e.Type, e.ID)
	var old *entity.Entity
	if data, ok := s.entities[key]; ok {
		old = &entity.Entity{}
		if err := json.Unmarshal(data, old); err != nil {
			return PersistResult{}, fmt.Errorf("failed to decode entity %s: %w", e.ID, err)
		}
	}

	toWrite, res, write, err := prepareUpsert(old, e, opts, s.now())
	if err != nil || !write {
		return res, err
	}

	data, err := json.Marshal(toWrite)
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to encode entity %s: %w", e.ID, err)
	}
	s.entities[key] = data
	return res, nil
}

func (s *MemoryStore) Delete(ctx context.Context, entityType, id string) (PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(entityType, id)
	if _, ok := s.entities[key]; !ok {
		return PersistResult{ErrorReason: ReasonNotFound}, nil
	}
	delete(s.entities, key)
	return PersistResult{Deleted: 1}, nil
}

func (s *MemoryStore) ListIDsBySourceInterface(
	ctx context.Context,
	entityType string,
	sources, interfaces []string,
) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, data := range s.entities {
		var e entity.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		if e.Type != entityType {
			continue
		}
		if len(sources) > 0 && !slices.Contains(sources, e.Source) {
			continue
		}
		if len(interfaces) > 0 && !slices.Contains(interfaces, e.SyncSourceInterface) {
			continue
		}
		ids = append(ids, e.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec entity.RawRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = s.now()
	}
	rec.Payload = slices.Clone(rec.Payload)
	s.raw = append(s.raw, rec)
	return rec.ID, nil
}

func (s *MemoryStore) RawRecords() []entity.RawRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.raw)
}

func (s *MemoryStore) LastSync(ctx context.Context, source string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[source], nil
}

func (s *MemoryStore) SaveSync(ctx context.Context, source string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[source] = t
	return nil
}
