package reconcile

import "context"

type syncInProgressKey struct{}

// WithSyncInProgress marks ctx as carrying a write made by a sync job. Stores
// check it to suppress change notifications that would otherwise schedule a
// redundant sync back in the opposite direction.
func WithSyncInProgress(ctx context.Context) context.Context {
	return context.WithValue(ctx, syncInProgressKey{}, true)
}

// SyncInProgress reports whether ctx was marked by WithSyncInProgress
func SyncInProgress(ctx context.Context) bool {
	v, _ := ctx.Value(syncInProgressKey{}).(bool)
	return v
}
