package workspace

import (
	"path/filepath"
	"sort"
	"sync"
)

// PathLocks is a registry of per-file reader/writer locks. Readers share a
// path; a writer holds it exclusively.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.RWMutex)}
}

func (l *PathLocks) get(p string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[p]
	if !ok {
		m = &sync.RWMutex{}
		l.locks[p] = m
	}
	return m
}

// Lock takes shared locks on reads and exclusive locks on writes. A path in
// both sets is locked exclusively. Locks are acquired in path order so two
// callers cannot deadlock.
func (l *PathLocks) Lock(reads, writes []string) func() {
	mode := make(map[string]bool, len(reads)+len(writes))
	for _, r := range reads {
		if p := filepath.Clean(r); !mode[p] {
			mode[p] = false
		}
	}
	for _, w := range writes {
		mode[filepath.Clean(w)] = true
	}
	paths := make([]string, 0, len(mode))
	for p := range mode {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	type held struct {
		m         *sync.RWMutex
		exclusive bool
	}
	acquired := make([]held, 0, len(paths))
	for _, p := range paths {
		m := l.get(p)
		if mode[p] {
			m.Lock()
		} else {
			m.RLock()
		}
		acquired = append(acquired, held{m, mode[p]})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(acquired) - 1; i >= 0; i-- {
				if acquired[i].exclusive {
					acquired[i].m.Unlock()
				} else {
					acquired[i].m.RUnlock()
				}
			}
		})
	}
}
