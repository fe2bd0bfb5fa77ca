package engine

import (
	"sort"
	"sync"

	"fleetguard/internal/model"
)

// KeyLocks serialises work per incident key. Entries are dropped once no
// goroutine holds or waits on them.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires every key in sorted order and returns the release func.
func (k *KeyLocks) Lock(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, key)
	}
	sort.Strings(uniq)

	held := make([]*keyLock, 0, len(uniq))
	for _, key := range uniq {
		l := k.acquire(key)
		l.mu.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.release(uniq[i])
		}
	}
}

func (k *KeyLocks) acquire(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyLocks) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(k.locks, key)
	}
}

func (k *KeyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func incidentKey(vin string, kind model.AlertKind) string {
	return vin + "|" + string(kind)
}
