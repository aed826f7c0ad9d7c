package server

import (
	"fmt"
	"os"

	"github.com/epsniff/runfactory/pkg/config"
	"github.com/epsniff/runfactory/pkg/persistence"
	"github.com/epsniff/runfactory/pkg/persistence/memstore"
	"github.com/epsniff/runfactory/pkg/persistence/pebblestore"
	"github.com/epsniff/runfactory/pkg/persistence/raftstore"
	"go.uber.org/zap"
)

// openBackend returns the configured persistence backend. A nil backend with a
// nil error means persistence is switched off. The raft store is also returned
// on its own since the server drives its membership.
func openBackend(cfg *config.Config, logger *zap.Logger) (persistence.Backend, *raftstore.Store, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil, nil
	case config.BackendMemory:
		return memstore.New(logger.Named("memstore")), nil, nil
	case config.BackendPebble:
		if err := os.MkdirAll(cfg.PebbleDir, 0700); err != nil {
			return nil, nil, fmt.Errorf("making pebble data dir: %w", err)
		}
		s, err := pebblestore.Open(cfg.PebbleDir, logger.Named("pebble"))
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BackendRaft:
		replicaID, err := config.ReplicaID(cfg.ID())
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(cfg.RaftDataDir, 0700); err != nil {
			return nil, nil, fmt.Errorf("making raft data dir: %w", err)
		}
		s, err := raftstore.New(raftstore.Options{
			NodeHostDir: cfg.RaftDataDir,
			RaftAddress: cfg.RaftAddress(),
			ReplicaID:   replicaID,
			Bootstrap:   cfg.Bootstrap,
		}, logger.Named("raft"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
