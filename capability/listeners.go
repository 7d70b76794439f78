package capability

import (
	"slices"
	"sync"
)

// Listeners is the list of user listeners a handler fans notifications out
// to. Add and Remove report when the list becomes non-empty or empty, which is
// when the handler attaches to or detaches from its toolkit.
type Listeners[L comparable] struct {
	mu   sync.Mutex
	list []L
}

// Add appends l. first is true when the list was empty. Adding a listener
// that is already present does nothing.
func (ls *Listeners[L]) Add(l L) (first bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if slices.Contains(ls.list, l) {
		return false
	}
	ls.list = append(ls.list, l)
	return len(ls.list) == 1
}

// Remove deletes l. last is true when l was present and the list is now empty.
func (ls *Listeners[L]) Remove(l L) (last bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	i := slices.Index(ls.list, l)
	if i < 0 {
		return false
	}
	ls.list = slices.Delete(ls.list, i, i+1)
	return len(ls.list) == 0
}

// Snapshot returns a copy of the current listeners.
func (ls *Listeners[L]) Snapshot() []L {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return slices.Clone(ls.list)
}

// Len returns the number of listeners.
func (ls *Listeners[L]) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.list)
}

// Clear removes all listeners and returns how many there were.
func (ls *Listeners[L]) Clear() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	n := len(ls.list)
	ls.list = nil
	return n
}
