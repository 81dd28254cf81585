package vm

import "sync"

// ---------------------------------------------------------------------------
// Process-wide string intern pool
// ---------------------------------------------------------------------------

// The intern pool is shared by every interpreter instance in the process.
// It is append-only: entries are never removed or mutated after insertion,
// so concurrent readers need no coordination beyond the insert lock.

var internPool = struct {
	mu      sync.RWMutex
	strings []string
	index   map[string]int32
}{
	index: make(map[string]int32),
}

// Intern returns the pool index for s, inserting it on first use.
func Intern(s string) int32 {
	internPool.mu.RLock()
	idx, ok := internPool.index[s]
	internPool.mu.RUnlock()
	if ok {
		return idx
	}
	internPool.mu.Lock()
	defer internPool.mu.Unlock()
	if idx, ok := internPool.index[s]; ok {
		return idx
	}
	idx = int32(len(internPool.strings))
	internPool.strings = append(internPool.strings, s)
	internPool.index[s] = idx
	return idx
}

// InternedString returns the string at pool index idx, or "" when idx was
// never assigned.
func InternedString(idx int32) string {
	internPool.mu.RLock()
	defer internPool.mu.RUnlock()
	if idx < 0 || int(idx) >= len(internPool.strings) {
		return ""
	}
	return internPool.strings[idx]
}
