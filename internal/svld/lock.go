package svld

import "context"

// Locker serializes mutating operations on a backup root across processes.
// Lock blocks until the lock is held or ctx is done and returns the
// function that releases it.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// NopLocker never blocks.
type NopLocker struct{}

func (NopLocker) Lock(context.Context) (func(), error) { return func() {}, nil }
