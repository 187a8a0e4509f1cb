package svld

import "context"

// Mirror copies published snapshots to secondary storage. It is optional;
// mirror failures never fail the local operation.
type Mirror interface {
	PutSnapshot(ctx context.Context, name, dir string) error
	DeleteSnapshot(ctx context.Context, name string) error
}
