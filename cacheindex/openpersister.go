package cacheindex

import (
	"context"
	"fmt"
	"strings"
)

// OpenPersister dispatches a DSN to the matching Persister backend by
// scheme, mirroring the teacher's store.New dbType switch between
// sqlite/rqlite/postgres kv.Store backends. A bare filesystem path or a
// "sqlite:" / "file:" scheme opens the sqlite backend; "postgres://" or
// "postgresql://" opens postgres; "http://" or "https://" opens rqlite,
// since that is how the rqlite HTTP API is addressed.
func OpenPersister(ctx context.Context, dsn string) (Persister, func() error, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		p, closer, err := OpenPostgresPersister(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres cache index: %w", err)
		}
		return p, closer, nil
	case strings.HasPrefix(dsn, "http://"), strings.HasPrefix(dsn, "https://"):
		p, err := OpenRqlitePersister(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("opening rqlite cache index: %w", err)
		}
		return p, func() error { return nil }, nil
	default:
		p, closer, err := OpenSQLitePersister(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite cache index: %w", err)
		}
		return p, closer, nil
	}
}
