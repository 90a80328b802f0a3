package records

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultCacheSize = 512

// CachingStore keeps recently read or written records in memory. Records are
// never mutated once written, so a cached entry cannot go stale.
type CachingStore struct {
	Store
	cache *lru.Cache[string, Record]
}

var _ Store = (*CachingStore)(nil)

func NewCachingStore(store Store, size int) (*CachingStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Record](size)
	if err != nil {
		return nil, errors.Wrap(err, "could not create record cache")
	}
	return &CachingStore{Store: store, cache: cache}, nil
}

func (c *CachingStore) Write(ctx context.Context, r Record) (string, error) {
	ref, err := c.Store.Write(ctx, r)
	if err != nil {
		return "", err
	}
	// cache what a read would return, not what was passed in
	if decoded, err := Decode(Encode(r)); err == nil {
		c.cache.Add(ref, decoded)
	}
	return ref, nil
}

func (c *CachingStore) Read(ctx context.Context, ref string) (Record, error) {
	if r, ok := c.cache.Get(ref); ok {
		log.Ctx(ctx).Trace().Str("ref", ref).Msg("record cache hit")
		return r, nil
	}
	r, err := c.Store.Read(ctx, ref)
	if err != nil {
		return Record{}, err
	}
	c.cache.Add(ref, r)
	return r, nil
}
