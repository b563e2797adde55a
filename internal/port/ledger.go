package port

// Ledger is the durable record of per-id completion and per-path directory
// creation that makes re-runs idempotent.
//
// Mutators persist internally and degrade to in-memory state on write
// failure, so they do not return errors; a lost persist costs at most a
// redundant retry on the next run.
type Ledger interface {
	IsCompleted(id string) bool
	IsFailed(id string) bool
	MarkCompleted(id string)
	MarkFailed(id string)

	IsDirectoryMaterialized(path string) bool
	MarkDirectoryMaterialized(path string)
}
