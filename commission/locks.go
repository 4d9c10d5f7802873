package commission

import (
	"sort"
	"sync"
)

// LockKey names one department's slice of one project.
type LockKey struct {
	ProjectID    ProjectID
	DepartmentID DepartmentID
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocks serializes cap checks per (project, department) within one
// process. Re-allocation and the distribution reconciler share one instance.
// Entries are dropped when the last holder releases them.
type KeyedLocks struct {
	mu      sync.Mutex
	entries map[LockKey]*lockEntry
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{entries: make(map[LockKey]*lockEntry)}
}

// Lock acquires every key in a fixed order and returns the release func.
func (l *KeyedLocks) Lock(keys ...LockKey) func() {
	keys = dedupeKeys(keys)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProjectID != keys[j].ProjectID {
			return keys[i].ProjectID < keys[j].ProjectID
		}
		return keys[i].DepartmentID < keys[j].DepartmentID
	})

	held := make([]*lockEntry, len(keys))
	for i, k := range keys {
		l.mu.Lock()
		e, ok := l.entries[k]
		if !ok {
			e = &lockEntry{}
			l.entries[k] = e
		}
		e.refs++
		l.mu.Unlock()

		e.mu.Lock()
		held[i] = e
	}

	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.entries, keys[i])
			}
			l.mu.Unlock()
		}
	}
}

func dedupeKeys(keys []LockKey) []LockKey {
	seen := make(map[LockKey]bool, len(keys))
	out := make([]LockKey, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
