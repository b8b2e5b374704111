package cacheindex

import (
	"context"
	"path"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/a-h/kv"
	"github.com/a-h/kv/postgreskv"
)

// PostgresPersister is the postgres-backed kv.Store acceleration layer,
// adapted from the teacher's store.newPostgresStore.
type PostgresPersister struct {
	pool *pgxpool.Pool
	kv   kv.Store
}

// OpenPostgresPersister opens a pgx connection pool against dsn.
func OpenPostgresPersister(ctx context.Context, dsn string) (*PostgresPersister, func() error, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	store := postgreskv.NewStore(pool)
	if err := store.Init(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	closer := func() error {
		pool.Close()
		return nil
	}
	return &PostgresPersister{pool: pool, kv: store}, closer, nil
}

// Load returns every persisted name@version -> path entry.
func (p *PostgresPersister) Load(ctx context.Context) (map[string]string, error) {
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
func (p *PostgresPersister) Save(ctx context.Context, entries map[string]string) error {
	for key, storePath := range entries {
		if err := p.kv.Put(ctx, sqlitePrefix+key, -1, storePath); err != nil {
			return err
		}
	}
	return nil
}
