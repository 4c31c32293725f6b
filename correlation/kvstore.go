package correlation

import (
	"errors"
	"fmt"

	"github.com/interledger/connector/ilp"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/kvdb"
)

// DefaultCacheSize is the number of correlations kept in the read cache of a
// KVStore.
const DefaultCacheSize = 10_000

var (
	// correlationBucket is the top-level bucket holding every correlation,
	// keyed by the 16 byte destination transfer id.
	correlationBucket = []byte("transfer-correlations")
)

// cachedCorrelation wraps a correlation so it can live in an lru cache.
type cachedCorrelation struct {
	*TransferCorrelation
}

// Size counts every entry as one unit, so the cache capacity is a number of
// correlations.
func (c *cachedCorrelation) Size() (uint64, error) {
	return 1, nil
}

// KVStore persists correlations in a kvdb backend. Lookups go through an lru
// cache since a correlation is typically read back shortly after it's
// written, once the next hop settles.
type KVStore struct {
	db    kvdb.Backend
	cache *lru.Cache[ilp.TransferID, *cachedCorrelation]
}

// A compile-time check to ensure KVStore implements Store.
var _ Store = (*KVStore)(nil)

// NewKVStore creates the store's bucket if needed and returns the store.
func NewKVStore(db kvdb.Backend, cacheSize uint64) (*KVStore, error) {
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}

	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(correlationBucket)

		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create correlation bucket: "+
			"%w", err)
	}

	return &KVStore{
		db: db,
		cache: lru.NewCache[ilp.TransferID, *cachedCorrelation](
			cacheSize,
		),
	}, nil
}

// Save records the correlation. Concurrent saves are batched into a single
// database transaction where the backend supports it.
func (s *KVStore) Save(c *TransferCorrelation) error {
	value, err := encodeCorrelation(c)
	if err != nil {
		return err
	}

	key := c.Key()
	err = kvdb.Batch(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(correlationBucket)
		if bucket == nil {
			return ErrCorruptedStore
		}

		return bucket.Put(key[:], value)
	})
	if err != nil {
		return fmt.Errorf("unable to save correlation %v: %w", c, err)
	}

	_, _ = s.cache.Put(key, &cachedCorrelation{c})

	return nil
}

// FindByDestinationTransferID returns the correlation for the destination
// transfer id.
func (s *KVStore) FindByDestinationTransferID(
	id ilp.TransferID) (*TransferCorrelation, error) {

	cached, err := s.cache.Get(id)
	switch {
	case err == nil:
		return cached.TransferCorrelation, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return nil, err
	}

	var c *TransferCorrelation
	err = kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(correlationBucket)
		if bucket == nil {
			return ErrCorruptedStore
		}

		value := bucket.Get(id[:])
		if value == nil {
			return ErrCorrelationNotFound
		}

		c, err = decodeCorrelation(value)

		return err
	}, func() {
		c = nil
	})
	if err != nil {
		return nil, err
	}

	_, _ = s.cache.Put(id, &cachedCorrelation{c})

	return c, nil
}

// ForEach calls cb for every stored correlation in key order.
func (s *KVStore) ForEach(cb func(*TransferCorrelation) error) error {
	return kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(correlationBucket)
		if bucket == nil {
			return ErrCorruptedStore
		}

		return bucket.ForEach(func(_, v []byte) error {
			c, err := decodeCorrelation(v)
			if err != nil {
				return err
			}

			return cb(c)
		})
	}, func() {})
}
