package cacheindex

import (
	"context"
	"net/url"
	"path"

	rqlitehttp "github.com/rqlite/rqlite-go-http"

	"github.com/a-h/kv"
	"github.com/a-h/kv/rqlitekv"
)

// RqlitePersister is the rqlite-backed kv.Store acceleration layer,
// adapted from the teacher's store.newRqliteStore: the DSN's userinfo
// becomes HTTP basic auth against the rqlite HTTP API.
type RqlitePersister struct {
	kv kv.Store
}

// OpenRqlitePersister dials an rqlite cluster at dsn (an http(s):// URL,
// optionally carrying "user:pass@" basic-auth credentials).
func OpenRqlitePersister(ctx context.Context, dsn string) (*RqlitePersister, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	client := rqlitehttp.NewClient(dsn, nil)
	if u.User != nil {
		pwd, _ := u.User.Password()
		client.SetBasicAuth(u.User.Username(), pwd)
	}
	store := rqlitekv.NewStore(client)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return &RqlitePersister{kv: store}, nil
}

// Load returns every persisted name@version -> path entry.
func (p *RqlitePersister) Load(ctx context.Context) (map[string]string, error) {
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
func (p *RqlitePersister) Save(ctx context.Context, entries map[string]string) error {
	for key, storePath := range entries {
		if err := p.kv.Put(ctx, sqlitePrefix+key, -1, storePath); err != nil {
			return err
		}
	}
	return nil
}
