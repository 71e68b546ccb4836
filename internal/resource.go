package internal

import (
	"io"
	"log/slog"
)

// Resource owns at most one live instance of a closable handle (device
// session, messaging gateway). Replace always releases the previous
// instance before storing the new one, so reinitialisation after a reboot
// or repair never leaks a session or a background listener.
//
// A Resource belongs to the monitor loop goroutine and is not safe for
// concurrent use.
type Resource[T io.Closer] struct {
	name string
	cur  T
	set  bool
}

// NewResource creates an empty resource handle; name is used in logs
func NewResource[T io.Closer](name string) *Resource[T] {
	return &Resource[T]{name: name}
}

// Get returns the current instance and whether one is held
func (r *Resource[T]) Get() (T, bool) {
	return r.cur, r.set
}

// Replace releases the current instance (if any) and takes ownership of v
func (r *Resource[T]) Replace(v T) {
	r.Release()
	r.cur = v
	r.set = true
}

// Release closes and forgets the current instance
func (r *Resource[T]) Release() {
	if !r.set {
		return
	}
	if err := r.cur.Close(); err != nil {
		slog.Warn("Failed to close resource", "resource", r.name, "error", err)
	}
	var zero T
	r.cur = zero
	r.set = false
}
