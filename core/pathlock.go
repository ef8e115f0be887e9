package core

import (
	"path/filepath"
	"slices"
	"sync"
)

// pathLocks hands out one mutex per output path so two tasks never write
// the same file concurrently.  Entries are dropped when no holder remains.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: make(map[string]*pathLock)}
}

func lockKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// lockAll locks every distinct path in sorted key order, so callers holding
// overlapping sets cannot deadlock.
func (l *pathLocks) lockAll(paths []string) (unlock func()) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			keys = append(keys, lockKey(p))
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*pathLock, len(keys))
	l.mu.Lock()
	for i, key := range keys {
		pl, ok := l.m[key]
		if !ok {
			pl = &pathLock{}
			l.m[key] = pl
		}
		pl.refs++
		held[i] = pl
	}
	l.mu.Unlock()

	for _, pl := range held {
		pl.mu.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, pl := range held {
			pl.refs--
			if pl.refs == 0 {
				delete(l.m, keys[i])
			}
		}
		l.mu.Unlock()
	}
}

// claimedPaths lists the output path of src plus every path its steps claim.
func claimedPaths(src Source, steps []Step) []string {
	paths := []string{src.OutputPath}
	for _, s := range steps {
		if c, ok := s.(OutputClaimer); ok {
			paths = append(paths, c.Claims(src.OutputPath)...)
		}
	}
	return paths
}
