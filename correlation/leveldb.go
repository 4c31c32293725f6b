package correlation

import (
	"errors"
	"fmt"

	"github.com/interledger/connector/ilp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDBKeyPrefix namespaces correlation keys within the database.
var levelDBKeyPrefix = []byte("corr/")

// LevelDBStore persists correlations in a goleveldb database.
type LevelDBStore struct {
	db *leveldb.DB

	writeOpts *opt.WriteOptions
}

// A compile-time check to ensure LevelDBStore implements Store.
var _ Store = (*LevelDBStore)(nil)

// OpenLevelDBStore opens, creating it if necessary, the database at path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open leveldb at %v: %w", path,
			err)
	}

	return NewLevelDBStore(db), nil
}

// NewLevelDBStore wraps an already opened database.
func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{
		db:        db,
		writeOpts: &opt.WriteOptions{Sync: true},
	}
}

func levelDBKey(id ilp.TransferID) []byte {
	key := make([]byte, 0, len(levelDBKeyPrefix)+len(id))
	key = append(key, levelDBKeyPrefix...)

	return append(key, id[:]...)
}

// Save records the correlation. The write is synced to disk before returning.
func (s *LevelDBStore) Save(c *TransferCorrelation) error {
	value, err := encodeCorrelation(c)
	if err != nil {
		return err
	}

	if err := s.db.Put(levelDBKey(c.Key()), value, s.writeOpts); err != nil {
		return fmt.Errorf("unable to save correlation %v: %w", c, err)
	}

	return nil
}

// FindByDestinationTransferID returns the correlation for the destination
// transfer id.
func (s *LevelDBStore) FindByDestinationTransferID(
	id ilp.TransferID) (*TransferCorrelation, error) {

	value, err := s.db.Get(levelDBKey(id), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, ErrCorrelationNotFound

	case err != nil:
		return nil, err
	}

	return decodeCorrelation(value)
}

// ForEach calls cb for every stored correlation in key order.
func (s *LevelDBStore) ForEach(cb func(*TransferCorrelation) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(levelDBKeyPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		c, err := decodeCorrelation(iter.Value())
		if err != nil {
			return err
		}

		if err := cb(c); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Close closes the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
