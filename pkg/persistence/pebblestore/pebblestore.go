package pebblestore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/epsniff/runfactory/pkg/loggingutils"
	"github.com/epsniff/runfactory/pkg/persistence"
	"go.uber.org/zap"
)

var _ persistence.Backend = (*Store)(nil)

// keyPrefix namespaces our records inside the pebble keyspace.
const keyPrefix = "rf/"

type Option func(*pebble.Options)

// WithFS swaps the filesystem pebble writes to, e.g. vfs.NewMem() in tests.
func WithFS(fs vfs.FS) Option {
	return func(o *pebble.Options) {
		o.FS = fs
	}
}

// Store is a persistence.Backend on top of a local pebble database. Each
// transaction is one indexed batch committed with pebble.Sync.
type Store struct {
	// serializes transactions, pebble batches don't detect conflicts
	txMu   sync.Mutex
	db     *pebble.DB
	logger *zap.Logger
}

func Open(dir string, logger *zap.Logger, opts ...Option) (*Store, error) {
	o := &pebble.Options{Logger: loggingutils.NewPrintfLogger(logger)}
	for _, opt := range opts {
		opt(o)
	}
	db, err := pebble.Open(dir, o)
	if err != nil {
		return nil, fmt.Errorf("opening pebble db at %s: %w", dir, err)
	}
	logger.Info("pebble store opened", zap.String("dir", dir))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) InTransaction(fn func(tx persistence.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&pebbleTx{batch: batch}); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("committing pebble batch: %w", err)
	}
	s.logger.Debug("pebble batch committed", zap.Uint32("count", batch.Count()))
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type pebbleTx struct {
	batch *pebble.Batch
}

func encodeKey(key persistence.Key) []byte {
	return []byte(keyPrefix + key.String())
}

func (tx *pebbleTx) Get(key persistence.Key, into interface{}) error {
	data, closer, err := tx.batch.Get(encodeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return persistence.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	defer closer.Close()
	return persistence.Decode(data, into)
}

func (tx *pebbleTx) Put(key persistence.Key, val interface{}) error {
	data, err := persistence.Encode(val)
	if err != nil {
		return err
	}
	if err := tx.batch.Set(encodeKey(key), data, nil); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
