// Package identity tracks which user a browser profile is currently acting
// as.  A nil identity means anonymous or not yet resolved; the booking
// session does not distinguish the two, it only reacts when an identity
// becomes concrete.
package identity

import "sync"

// Holder stores the active identity of one browser profile together with
// the raw bearer credential that proved it.  It is safe for concurrent use.
type Holder struct {
	mu        sync.RWMutex
	id        *int64
	token     string
	nextID    int
	listeners map[int]func(id int64)
}

// NewHolder returns a Holder with no active identity.
func NewHolder() *Holder {
	return &Holder{listeners: make(map[int]func(int64))}
}

// Active returns a copy of the active identity, or nil.
func (h *Holder) Active() *int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.id == nil {
		return nil
	}
	v := *h.id
	return &v
}

// Token returns the bearer credential last seen for this profile.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set replaces the active identity.  Listeners registered with OnResolved
// fire, outside the lock, when the identity changes to a concrete value
// (unknown to known, or one user to another).
func (h *Holder) Set(id *int64, token string) {
	h.mu.Lock()
	changed := id != nil && (h.id == nil || *h.id != *id)
	if id == nil {
		h.id = nil
	} else {
		v := *id
		h.id = &v
	}
	h.token = token
	var fns []func(int64)
	if changed {
		for _, fn := range h.listeners {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(*id)
	}
}

// OnResolved registers fn and returns a func that removes it.
func (h *Holder) OnResolved(fn func(id int64)) func() {
	h.mu.Lock()
	h.nextID++
	key := h.nextID
	h.listeners[key] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, key)
		h.mu.Unlock()
	}
}
