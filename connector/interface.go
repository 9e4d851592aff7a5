package connector

import (
	"context"
	"os"
)

// Executor runs one command per call on the remote side.
type Executor interface {
	Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error)
}

// FileOperator moves files over SFTP.
type FileOperator interface {
	Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	Download(ctx context.Context, remotePath, localPath string) error
}

// Connection is one authenticated SSH client. It is not shared across
// executor calls; every call dials its own and closes it afterwards.
type Connection interface {
	Executor
	FileOperator
	Close() error
}
