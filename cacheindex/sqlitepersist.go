package cacheindex

import (
	"context"
	"path"

	"github.com/a-h/kv"
	"github.com/a-h/kv/sqlitekv"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqlitePrefix = "/cacheindex/"

// SQLitePersister is the sqlite-backed kv.Store acceleration layer of
// SPEC_FULL.md §11, adapted from the teacher's store.newSqliteStore: one
// row per "name@version" key, value the store path.
type SQLitePersister struct {
	kv kv.Store
}

// OpenSQLitePersister opens (creating if absent) a sqlite database at
// dsn to back the cache index's persistence layer.
func OpenSQLitePersister(ctx context.Context, dsn string) (*SQLitePersister, func() error, error) {
	pool, err := sqlitex.NewPool(dsn, sqlitex.PoolOptions{
		Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI,
	})
	if err != nil {
		return nil, nil, err
	}
	store := sqlitekv.NewStore(pool)
	if err := store.Init(ctx); err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return &SQLitePersister{kv: store}, pool.Close, nil
}

// Load returns every persisted name@version -> path entry.
func (p *SQLitePersister) Load(ctx context.Context) (map[string]string, error) {
	records, err := p.kv.GetPrefix(ctx, sqlitePrefix, 0, -1)
	if err != nil {
		return nil, err
	}
	paths, err := kv.ValuesOf[string](records)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(records))
	for i, r := range records {
		out[path.Base(r.Key)] = paths[i]
	}
	return out, nil
}

// Save upserts every entry in the snapshot.
func (p *SQLitePersister) Save(ctx context.Context, entries map[string]string) error {
	for key, storePath := range entries {
		if err := p.kv.Put(ctx, sqlitePrefix+key, -1, storePath); err != nil {
			return err
		}
	}
	return nil
}
