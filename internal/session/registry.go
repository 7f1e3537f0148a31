// Package session holds in-memory sessions behind a single choke point that
// enforces one-session-per-owner and resolves rendering references (message
// ids) back to sessions.
package session

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID = errors.New("session: duplicate session id")
	ErrOwnerBusy   = errors.New("session: owner already has an active session")
	ErrRefTaken    = errors.New("session: reference already bound")
	ErrNotFound    = errors.New("session: not found")
)

type entry[T any] struct {
	value  T
	owners map[string]struct{}
	refs   map[string]struct{}
}

// Registry is an arena of sessions keyed by id with an owner index and a
// reference index. It is not safe for concurrent use; engines serialise
// access under their own lock.
type Registry[T any] struct {
	byID    map[string]*entry[T]
	byOwner map[string]string
	byRef   map[string]string
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		byID:    make(map[string]*entry[T]),
		byOwner: make(map[string]string),
		byRef:   make(map[string]string),
	}
}

// Insert adds a session and claims every owner for it. Nothing is inserted
// if any owner already holds a session.
func (r *Registry[T]) Insert(id string, value T, owners ...string) error {
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	for _, owner := range owners {
		if _, busy := r.byOwner[owner]; busy {
			return fmt.Errorf("%w: %s", ErrOwnerBusy, owner)
		}
	}
	e := &entry[T]{
		value:  value,
		owners: make(map[string]struct{}, len(owners)),
		refs:   make(map[string]struct{}),
	}
	for _, owner := range owners {
		e.owners[owner] = struct{}{}
		r.byOwner[owner] = id
	}
	r.byID[id] = e
	return nil
}

// Get returns the session stored under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	e, ok := r.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// ByOwner returns the session currently claimed by owner.
func (r *Registry[T]) ByOwner(owner string) (T, bool) {
	id, ok := r.byOwner[owner]
	if !ok {
		var zero T
		return zero, false
	}
	return r.Get(id)
}

// OwnerSession returns the id of the session claimed by owner.
func (r *Registry[T]) OwnerSession(owner string) (string, bool) {
	id, ok := r.byOwner[owner]
	return id, ok
}

// ByRef returns the session bound to a reference such as a message id.
func (r *Registry[T]) ByRef(ref string) (T, bool) {
	id, ok := r.byRef[ref]
	if !ok {
		var zero T
		return zero, false
	}
	return r.Get(id)
}

// Bind attaches a reference to a session. Rebinding the same pair is a no-op.
func (r *Registry[T]) Bind(id, ref string) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current, taken := r.byRef[ref]; taken {
		if current == id {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRefTaken, ref)
	}
	r.byRef[ref] = id
	e.refs[ref] = struct{}{}
	return nil
}

// Claim adds owner to an existing session.
func (r *Registry[T]) Claim(id, owner string) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current, busy := r.byOwner[owner]; busy {
		if current == id {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrOwnerBusy, owner)
	}
	r.byOwner[owner] = id
	e.owners[owner] = struct{}{}
	return nil
}

// Release drops owner's claim, leaving the session in place.
func (r *Registry[T]) Release(owner string) {
	id, ok := r.byOwner[owner]
	if !ok {
		return
	}
	delete(r.byOwner, owner)
	if e, ok := r.byID[id]; ok {
		delete(e.owners, owner)
	}
}

// Remove deletes a session together with its owner and reference entries.
func (r *Registry[T]) Remove(id string) (T, bool) {
	e, ok := r.byID[id]
	if !ok {
		var zero T
		return zero, false
	}
	for owner := range e.owners {
		if r.byOwner[owner] == id {
			delete(r.byOwner, owner)
		}
	}
	for ref := range e.refs {
		if r.byRef[ref] == id {
			delete(r.byRef, ref)
		}
	}
	delete(r.byID, id)
	return e.value, true
}

// Range calls fn for every session until fn returns false. fn must not
// mutate the registry; collect ids and remove them afterwards.
func (r *Registry[T]) Range(fn func(id string, value T) bool) {
	for id, e := range r.byID {
		if !fn(id, e.value) {
			return
		}
	}
}

// Len reports the number of sessions.
func (r *Registry[T]) Len() int { return len(r.byID) }
