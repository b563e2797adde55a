package port

import "context"

// RemoteGateway is the capability surface the orchestrator needs from the
// destination remote. Implementations wrap an external storage tool or SDK.
//
// All operations may time out; a timeout surfaces as an error and is treated
// as a retryable failure for the node being processed, never as fatal.
type RemoteGateway interface {
	// Mkdir creates a directory on the remote. It is idempotent: succeeding
	// when the path already exists is not an error.
	Mkdir(ctx context.Context, path string) error

	// Copy uploads a single local file into a remote directory, preserving
	// the local file's base name.
	Copy(ctx context.Context, localPath, remoteDir string) error

	// List returns the names of the immediate entries of a remote directory.
	List(ctx context.Context, remoteDir string) ([]string, error)
}
