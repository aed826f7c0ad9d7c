package raftstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/epsniff/runfactory/pkg/loggingutils"
	"github.com/epsniff/runfactory/pkg/persistence"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	dgConfig "github.com/lni/dragonboat/v4/config"
	dglogger "github.com/lni/dragonboat/v4/logger"
	"github.com/lni/dragonboat/v4/raftio"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"go.uber.org/zap"
)

const (
	// ShardID is the single raft group all configuration records live in.
	ShardID uint64 = 100

	requestTimeout = 5 * time.Second
	retryInterval  = 50 * time.Millisecond
)

// dragonboat only accepts one logger factory per process
var installLoggerFactory sync.Once

var _ persistence.Backend = (*Store)(nil)

type Options struct {
	// NodeHostDir holds dragonboat's WAL and snapshots.
	NodeHostDir string
	RaftAddress string
	ReplicaID   uint64
	// Bootstrap starts a brand new single member group instead of waiting to be added.
	Bootstrap bool
}

// Store replicates records through a dragonboat raft group.
type Store struct {
	ctx       context.Context
	logger    *zap.Logger
	replicaID uint64
	nh        *dragonboat.NodeHost
	cs        *client.Session

	// serializes local transactions, the log orders them cluster wide
	txMu sync.Mutex
}

func New(opts Options, logger *zap.Logger) (*Store, error) {
	installLoggerFactory.Do(func() {
		dglogger.SetLoggerFactory(func(pkgName string) dglogger.ILogger {
			return loggingutils.NewPrintfLogger(logger.Named(pkgName))
		})
	})
	// change the log verbosity
	dglogger.GetLogger("raft").SetLevel(dglogger.ERROR)
	dglogger.GetLogger("rsm").SetLevel(dglogger.WARNING)
	dglogger.GetLogger("transport").SetLevel(dglogger.WARNING)
	dglogger.GetLogger("grpc").SetLevel(dglogger.WARNING)

	s := &Store{
		ctx:       context.Background(),
		logger:    logger,
		replicaID: opts.ReplicaID,
	}
	nhc := dgConfig.NodeHostConfig{
		WALDir:            opts.NodeHostDir,
		NodeHostDir:       opts.NodeHostDir,
		RTTMillisecond:    200,
		RaftAddress:       opts.RaftAddress,
		RaftEventListener: s,
	}
	nh, err := dragonboat.NewNodeHost(nhc)
	if err != nil {
		return nil, fmt.Errorf("failed to create nodehost: %w", err)
	}
	rc := dgConfig.Config{
		ReplicaID:          opts.ReplicaID,
		ShardID:            ShardID,
		ElectionRTT:        5,
		HeartbeatRTT:       1,
		CheckQuorum:        true,
		SnapshotEntries:    10,
		CompactionOverhead: 5,
	}
	members := map[uint64]string{}
	if opts.Bootstrap {
		members[opts.ReplicaID] = nh.RaftAddress()
	}
	if err := nh.StartReplica(members, len(members) == 0, newStateMachineFactory(logger.Named("fsm")), rc); err != nil {
		nh.Close()
		return nil, fmt.Errorf("failed to start replica: %w", err)
	}
	s.nh = nh
	s.cs = nh.GetNoOPSession(ShardID)
	logger.Info("raft store started",
		zap.String("raft-address", opts.RaftAddress),
		zap.Uint64("replica", opts.ReplicaID),
		zap.Bool("bootstrap", opts.Bootstrap))
	return s, nil
}

// InTransaction stages the writes of fn locally and proposes them to the raft
// group as a single entry. Reads go through the log so they observe every
// committed transaction.
func (s *Store) InTransaction(fn func(tx persistence.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &raftTx{store: s, staged: map[string][]byte{}}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.staged) == 0 {
		return nil
	}
	return s.propose(NewRecordsEvent(PutRecordsOp, tx.staged))
}

func (s *Store) propose(ev RecordsEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal raft entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	var res sm.Result
	err = retryUntilReady(ctx, func(ctx context.Context) (err error) {
		res, err = s.nh.SyncPropose(ctx, s.cs, data)
		return err
	})
	if err != nil {
		return fmt.Errorf("proposing records: %w", err)
	}
	if res.Value != ResultCodeSuccess {
		return fmt.Errorf("proposing records: state machine rejected entry (code %d)", res.Value)
	}
	return nil
}

func (s *Store) read(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	var res interface{}
	err := retryUntilReady(ctx, func(ctx context.Context) (err error) {
		res, err = s.nh.SyncRead(ctx, ShardID, key)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, persistence.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	data, ok := res.([]byte)
	if !ok {
		return nil, fmt.Errorf("converting result to []byte: %T", res)
	}
	return data, nil
}

// retryUntilReady runs fn again while the shard is still starting up or too
// busy to take the request, until ctx expires.
func retryUntilReady(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		err := fn(ctx)
		if !errors.Is(err, dragonboat.ErrShardNotReady) &&
			!errors.Is(err, dragonboat.ErrShardNotInitialized) &&
			!errors.Is(err, dragonboat.ErrSystemBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(retryInterval):
		}
	}
}

// AddVoter adds a voting peer to the raft group.
// Can only be called on the leader.
func (s *Store) AddVoter(replicaID uint64, peerAddress string) error {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	return retryUntilReady(ctx, func(ctx context.Context) error {
		return s.nh.SyncRequestAddReplica(ctx, ShardID, replicaID, peerAddress, 0)
	})
}

// IsLeader returns true if this replica currently leads the raft group.
func (s *Store) IsLeader() (bool, error) {
	leaderID, _, ok, err := s.nh.GetLeaderID(ShardID)
	if err != nil {
		return false, err
	}
	return ok && leaderID == s.replicaID, nil
}

func (s *Store) LeaderUpdated(info raftio.LeaderInfo) {
	if info.ShardID != ShardID {
		return
	}
	s.logger.Info("raft leader updated",
		zap.Uint64("leader", info.LeaderID),
		zap.Uint64("term", info.Term),
		zap.Bool("is-self", info.LeaderID == s.replicaID))
}

func (s *Store) Close() error {
	s.nh.Close()
	return nil
}

type raftTx struct {
	store  *Store
	staged map[string][]byte
}

func (tx *raftTx) Get(key persistence.Key, into interface{}) error {
	k := key.String()
	data, ok := tx.staged[k]
	if !ok {
		var err error
		if data, err = tx.store.read(k); err != nil {
			return err
		}
	}
	return persistence.Decode(data, into)
}

func (tx *raftTx) Put(key persistence.Key, val interface{}) error {
	data, err := persistence.Encode(val)
	if err != nil {
		return err
	}
	tx.staged[key.String()] = data
	return nil
}
