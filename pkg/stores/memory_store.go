package stores

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements IndexedStorage in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Record)}
}

func (s *MemoryStore) NumberOfReplicas(context.Context) (uint8, error) {
	return 1, nil
}

func (s *MemoryStore) WaitForReplicas(_ context.Context, replicas uint8, _ time.Duration) (uint8, error) {
	return min(replicas, 1), nil
}

func (s *MemoryStore) Exists(_ context.Context, ns Namespace, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[compositeKey(ns, key)]
	return ok, nil
}

func (s *MemoryStore) Scan(_ context.Context, ns Namespace, pattern string, cursor uint64, count uint64) (uint64, []string, error) {
	prefix, exact, err := scanPrefix(pattern)
	if err != nil {
		return 0, nil, err
	}

	nsPrefix := ns.String() + ":"

	s.mu.RLock()
	var matching []string
	for composite := range s.data {
		key, ok := strings.CutPrefix(composite, nsPrefix)
		if !ok {
			continue
		}
		if (exact && key == prefix) || (!exact && strings.HasPrefix(key, prefix)) {
			matching = append(matching, key)
		}
	}
	s.mu.RUnlock()

	sort.Strings(matching)
	return paginate(matching, cursor, count)
}

// paginate treats cursor as an offset into keys.
func paginate(keys []string, cursor, count uint64) (uint64, []string, error) {
	if count == 0 {
		count = 10
	}
	total := uint64(len(keys))
	if cursor >= total {
		return 0, []string{}, nil
	}
	end := cursor + count
	if end >= total {
		return 0, keys[cursor:], nil
	}
	return end, keys[cursor:end], nil
}

func (s *MemoryStore) Append(_ context.Context, ns Namespace, key string, id uint64, value []byte) error {
	if id == 0 {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	composite := compositeKey(ns, key)
	records := s.data[composite]
	if n := len(records); n > 0 && records[n-1].ID >= id {
		return fmt.Errorf("%w: %d under %s (last is %d)", ErrDuplicateID, id, composite, records[n-1].ID)
	}
	s.data[composite] = append(records, Record{ID: id, Value: slices.Clone(value)})
	return nil
}

func (s *MemoryStore) Length(_ context.Context, ns Namespace, key string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.data[compositeKey(ns, key)])), nil
}

func (s *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, compositeKey(ns, key))
	return nil
}

func (s *MemoryStore) Read(_ context.Context, ns Namespace, key string, startID, endID uint64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[compositeKey(ns, key)]
	from := sort.Search(len(records), func(i int) bool { return records[i].ID >= startID })

	result := make([]Record, 0)
	for _, r := range records[from:] {
		if r.ID > endID {
			break
		}
		result = append(result, cloneRecord(r))
	}
	return result, nil
}

func (s *MemoryStore) First(_ context.Context, ns Namespace, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[compositeKey(ns, key)]
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return cloneRecord(records[0]), true, nil
}

func (s *MemoryStore) Last(_ context.Context, ns Namespace, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[compositeKey(ns, key)]
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return cloneRecord(records[len(records)-1]), true, nil
}

func (s *MemoryStore) Closest(_ context.Context, ns Namespace, key string, id uint64) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[compositeKey(ns, key)]
	i := sort.Search(len(records), func(i int) bool { return records[i].ID >= id })
	if i == len(records) {
		return Record{}, false, nil
	}
	return cloneRecord(records[i]), true, nil
}

func (s *MemoryStore) DropPrefix(_ context.Context, ns Namespace, key string, lastDroppedID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	composite := compositeKey(ns, key)
	records := s.data[composite]
	i := sort.Search(len(records), func(i int) bool { return records[i].ID > lastDroppedID })
	if i == len(records) {
		delete(s.data, composite)
		return nil
	}
	s.data[composite] = slices.Clone(records[i:])
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(r Record) Record {
	return Record{ID: r.ID, Value: slices.Clone(r.Value)}
}
