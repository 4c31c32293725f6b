package correlation

import (
	"fmt"
	"path/filepath"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	// BackendMemory keeps correlations in memory only.
	BackendMemory = "memory"

	// BackendBolt stores correlations in a bbolt file through kvdb.
	BackendBolt = "bolt"

	// BackendLevelDB stores correlations in a goleveldb directory.
	BackendLevelDB = "leveldb"

	boltFileName = "correlations.db"
	levelDBDir   = "correlations.ldb"
)

// Config selects and tunes the correlation store.
//
//nolint:lll
type Config struct {
	Backend   string           `long:"backend" description:"The correlation store backend." choice:"bolt" choice:"leveldb" choice:"memory"`
	CacheSize uint64           `long:"cachesize" description:"Number of correlations kept in the bolt backend's read cache."`
	Bolt      *kvdb.BoltConfig `group:"bolt" namespace:"bolt" description:"Bolt settings."`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:   BackendBolt,
		CacheSize: DefaultCacheSize,
		Bolt: &kvdb.BoltConfig{
			NoFreelistSync:    true,
			AutoCompactMinAge: kvdb.DefaultBoltAutoCompactMinAge,
			DBTimeout:         kvdb.DefaultDBTimeout,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendBolt, BackendLevelDB:
		return nil

	default:
		return fmt.Errorf("unknown correlation backend %q, must be "+
			"one of %v, %v or %v", c.Backend, BackendBolt,
			BackendLevelDB, BackendMemory)
	}
}

// Open opens the configured store under dataDir. The returned function
// releases the store's resources.
func Open(c *Config, dataDir string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Backend {
	case BackendMemory:
		log.Warn("Using the in-memory correlation store, pending " +
			"payments will be lost on restart")

		return NewMemoryStore(), noop, nil

	case BackendLevelDB:
		path := filepath.Join(dataDir, levelDBDir)
		store, err := OpenLevelDBStore(path)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Opened leveldb correlation store at %v", path)

		return store, store.Close, nil

	case BackendBolt:
		db, err := kvdb.GetBoltBackend(&kvdb.BoltBackendConfig{
			DBPath:            dataDir,
			DBFileName:        boltFileName,
			NoFreelistSync:    c.Bolt.NoFreelistSync,
			AutoCompact:       c.Bolt.AutoCompact,
			AutoCompactMinAge: c.Bolt.AutoCompactMinAge,
			DBTimeout:         c.Bolt.DBTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open bolt "+
				"database: %w", err)
		}

		store, err := NewKVStore(db, c.CacheSize)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Infof("Opened bolt correlation store at %v",
			filepath.Join(dataDir, boltFileName))

		return store, db.Close, nil
	}

	return nil, nil, c.Validate()
}
