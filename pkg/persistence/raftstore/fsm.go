package raftstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/epsniff/runfactory/pkg/persistence"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"go.uber.org/zap"
)

const (
	ResultCodeFailure = iota
	ResultCodeSuccess
)

var _ sm.IStateMachine = (*recordStateMachine)(nil)

// recordStateMachine is the replicated map of encoded records. Every replica
// applies the same RecordsEvents in log order.
type recordStateMachine struct {
	mutex  sync.RWMutex
	logger *zap.Logger

	shardID   uint64
	replicaID uint64
	// key -> encoded record
	stateValue map[string][]byte
}

func newStateMachineFactory(logger *zap.Logger) sm.CreateStateMachineFunc {
	return func(shardID uint64, replicaID uint64) sm.IStateMachine {
		return newRecordStateMachine(shardID, replicaID, logger)
	}
}

func newRecordStateMachine(shardID, replicaID uint64, logger *zap.Logger) *recordStateMachine {
	return &recordStateMachine{
		logger:     logger.With(zap.Uint64("shard", shardID), zap.Uint64("replica", replicaID)),
		shardID:    shardID,
		replicaID:  replicaID,
		stateValue: map[string][]byte{},
	}
}

// Lookup answers a linearizable read. The query is the string form of a persistence.Key.
func (f *recordStateMachine) Lookup(query interface{}) (interface{}, error) {
	key, ok := query.(string)
	if !ok {
		return nil, fmt.Errorf("invalid query %#v", query)
	}

	f.mutex.RLock()
	defer f.mutex.RUnlock()
	data, ok := f.stateValue[key]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Update applies a committed raft entry.
func (f *recordStateMachine) Update(e sm.Entry) (sm.Result, error) {
	ev, err := UnmarshalRecordsEvent(e.Cmd)
	if err != nil {
		// an error here would stop the replica, the proposer sees the failure code instead
		f.logger.Error("failed to unmarshal raft entry", zap.Uint64("index", e.Index), zap.Error(err))
		return sm.Result{Value: ResultCodeFailure}, nil
	}
	switch ev.RequestType {
	case PutRecordsOp:
		f.mutex.Lock()
		defer f.mutex.Unlock()
		for k, v := range ev.Records {
			f.stateValue[k] = v
			f.logger.Debug("RequestType:PutRecords: record stored",
				zap.String("key", k),
				zap.Uint64("index", e.Index))
		}
		return sm.Result{Value: ResultCodeSuccess}, nil
	default:
		panic(fmt.Sprintf("Unrecognized records event type in raft log entry: %v. This is a bug.", ev.RequestType))
	}
}

func (f *recordStateMachine) SaveSnapshot(w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	f.mutex.RLock()
	data, err := json.Marshal(f.stateValue)
	f.mutex.RUnlock()
	if err != nil {
		return fmt.Errorf("record state machine snapshot error: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func (f *recordStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	state := map[string][]byte{}
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	f.mutex.Lock()
	f.stateValue = state
	f.mutex.Unlock()
	return nil
}

func (f *recordStateMachine) Close() error {
	return nil
}
