package memstore

import (
	"sync"

	"github.com/epsniff/runfactory/pkg/persistence"
	"go.uber.org/zap"
)

var _ persistence.Backend = (*Store)(nil)

func New(logger *zap.Logger) *Store {
	return &Store{
		logger:     logger,
		stateValue: map[string][]byte{},
	}
}

// Store keeps records in process memory. Transactions are serialized.
type Store struct {
	mutex  sync.RWMutex
	logger *zap.Logger
	// key.String() -> encoded record
	stateValue map[string][]byte
}

func (s *Store) InTransaction(fn func(tx persistence.Tx) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx := &memTx{store: s, staged: map[string][]byte{}}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		s.stateValue[k] = v
		s.logger.Debug("memstore: record stored", zap.String("key", k), zap.Int("size", len(v)))
	}
	return nil
}

func (s *Store) Close() error { return nil }

type memTx struct {
	store  *Store
	staged map[string][]byte
}

func (tx *memTx) Get(key persistence.Key, into interface{}) error {
	k := key.String()
	data, ok := tx.staged[k]
	if !ok {
		data, ok = tx.store.stateValue[k]
	}
	if !ok {
		return persistence.ErrNotFound
	}
	return persistence.Decode(data, into)
}

func (tx *memTx) Put(key persistence.Key, val interface{}) error {
	data, err := persistence.Encode(val)
	if err != nil {
		return err
	}
	tx.staged[key.String()] = data
	return nil
}
