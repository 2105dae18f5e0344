package store

import (
	"context"
	"fmt"
)

// Backend names accepted by NewStore
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// NewStore opens the named backend rooted at baseDir.
func NewStore(ctx context.Context, kind, baseDir string) (Store, error) {
	switch kind {
	case "", BackendFS:
		return NewFSStore(baseDir)
	case BackendSQLite:
		return NewSQLiteStore(ctx, baseDir)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}
