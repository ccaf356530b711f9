package dbapi

import "sync"

// Handle identifies a live Connection, Transaction, Cursor or
// ConnectionGroup. Objects refer to each other by handle; a lookup fails
// once the target has been closed.
type Handle uint32

// arena owns every object of one kind and hands out small integer handles.
type arena[T any] struct {
	mu    sync.Mutex
	next  Handle
	items map[Handle]T
}

func newArena[T any]() *arena[T] {
	return &arena[T]{items: make(map[Handle]T)}
}

func (a *arena[T]) add(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.items[a.next] = v
	return a.next
}

func (a *arena[T]) get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.items[h]
	return v, ok
}

func (a *arena[T]) alive(h Handle) bool {
	_, ok := a.get(h)
	return ok
}

func (a *arena[T]) remove(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.items, h)
}

func (a *arena[T]) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// resolve returns the live objects among hs, in order, skipping dead handles.
func (a *arena[T]) resolve(hs []Handle) []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]T, 0, len(hs))
	for _, h := range hs {
		if v, ok := a.items[h]; ok {
			out = append(out, v)
		}
	}
	return out
}

var (
	connections  = newArena[*Connection]()
	transactions = newArena[*Transaction]()
	cursors      = newArena[*Cursor]()
	groups       = newArena[*ConnectionGroup]()
)

// Live reports how many objects of each kind are open. Objects leaked by a
// missing Close stay counted.
func Live() map[string]int {
	return map[string]int{
		"connections":  connections.len(),
		"transactions": transactions.len(),
		"cursors":      cursors.len(),
		"groups":       groups.len(),
	}
}

func removeHandle(hs []Handle, h Handle) []Handle {
	for i, x := range hs {
		if x == h {
			return append(hs[:i], hs[i+1:]...)
		}
	}
	return hs
}
