package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/epsniff/runfactory/pkg/config"
	"github.com/epsniff/runfactory/pkg/loggingutils"
	"github.com/epsniff/runfactory/pkg/persistence"
	serfagent "github.com/epsniff/runfactory/pkg/server/agents/serf"
	"github.com/epsniff/runfactory/pkg/workerstate"
	"github.com/hashicorp/serf/serf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type server struct {
	config *config.Config
	logger *zap.Logger

	state   *workerstate.State
	backend persistence.Backend

	metadata *metadata

	// only set when worker state is replicated with raft
	serfAgent *serfagent.Agent
	raftAgent raftAgent
}

type raftAgent interface {
	AddVoter(replicaID uint64, peerAddress string) error
	IsLeader() (bool, error)
}

// New builds the server and opens its persistence backend. If the backend can't
// be opened the server keeps running without persistence.
func New(cfg *config.Config, defaults workerstate.Defaults, logger *zap.Logger) (*server, error) {
	ser := &server{
		config:   cfg,
		logger:   logger,
		metadata: NewMetadata(),
	}

	backend, raftStore, err := openBackend(cfg, logger)
	if err != nil {
		logger.Warn("persistence backend unavailable, continuing without persistence",
			zap.String("backend", cfg.Backend), zap.Error(err))
		backend, raftStore = nil, nil
	}
	ser.backend = backend

	if raftStore != nil {
		serfAgent, err := serfagent.New(cfg, logger.Named("serf-agent"))
		if err != nil {
			raftStore.Close()
			return nil, fmt.Errorf("creating serf agent: %w", err)
		}
		ser.serfAgent = serfAgent
		ser.raftAgent = raftStore
		// register ourselves as a handler for serf events. See (n *server) HandleEvent(e serf.Event)
		serfAgent.RegisterEventHandler(ser)
	}

	ser.state = workerstate.New(defaults, backend, logger.Named("worker-state"))
	return ser, nil
}

// State is the worker state served by this node.
func (n *server) State() *workerstate.State {
	return n.state
}

// HandleEvent is our tap into serf events. When a member joins and we lead the
// raft group, the member is added as a voter.
func (n *server) HandleEvent(e serf.Event) {
	switch e.EventType() {
	case serf.EventMemberJoin:
		me := e.(serf.MemberEvent)
		n.logger.Info("Server Serf Handler: Member Join", zap.String("serf-event", fmt.Sprintf("%+v", me.Members)))

		for _, m := range me.Members {
			nodedata, err := n.metadata.Add(m)
			if err != nil {
				n.logger.Error("Error processing metadata",
					zap.String("serf.Member", fmt.Sprintf("%+v", m)), zap.Error(err),
				)
				continue
			}
			if nodedata.ID() == n.config.ID() || n.raftAgent == nil {
				continue
			}
			isLeader, err := n.raftAgent.IsLeader()
			if err != nil {
				n.logger.Error("Error checking raft leadership", zap.Error(err))
				continue
			}
			if !isLeader {
				// We aren't the raft leader nothing else to do but to record the nodes metadata.
				n.logger.Info("Not the raft leader, skipping join", zap.String("peer.id", nodedata.ID()))
				continue
			}

			replicaID, err := config.ReplicaID(nodedata.ID())
			if err != nil {
				n.logger.Error("Error parsing nodedata id",
					zap.String("peer.id", nodedata.ID()),
					zap.String("peer.remoteaddr", nodedata.RaftAddr()),
					zap.Error(err),
				)
				continue
			}
			if err := n.raftAgent.AddVoter(replicaID, nodedata.RaftAddr()); err != nil {
				n.logger.Error("Error joining peer to Raft",
					zap.String("peer.id", nodedata.ID()),
					zap.String("peer.remoteaddr", nodedata.RaftAddr()),
					zap.Error(err),
				)
				continue
			}
			n.logger.Info("Peer joined Raft", zap.String("peer.id", nodedata.ID()),
				zap.String("peer.remoteaddr", nodedata.RaftAddr()))
		}
	case serf.EventMemberLeave, serf.EventMemberFailed, serf.EventMemberReap:
		me := e.(serf.MemberEvent)
		for _, m := range me.Members {
			if nd, err := nodeDataFromSerf(m); err == nil {
				if known, ok := n.metadata.FindByRaftAddr(nd.RaftAddr()); ok {
					n.logger.Info("Peer left the cluster",
						zap.String("peer.id", known.ID()),
						zap.String("peer.remoteaddr", known.RaftAddr()),
						zap.String("reason", me.EventType().String()))
				}
			}
			n.metadata.Remove(m)
		}
		n.logger.Debug("Server Serf Handler: Member Leave/Failed/Reap", zap.String("serf-event", fmt.Sprintf("%+v", me)))
	default:
		n.logger.Info("Server Serf Handler: Unhandled type", zap.String("serf-event", fmt.Sprintf("%+v", e)))
	}
}

// Serve runs the server's agents and blocks until one of the following:
// 1) An agent returns an error
// 2) A Ctrl-C signal is caught
// 3) ctx is cancelled
func (n *server) Serve(ctx context.Context) error {
	ctx, can := context.WithCancel(ctx)
	defer can()
	g, ctx := errgroup.WithContext(ctx)

	// Run HTTP server
	httpLogger := n.logger.Named("http")
	httpSrv := &http.Server{
		Addr:     n.config.HTTPAddress(),
		Handler:  newHTTPServer(n.state, httpLogger).Handler(),
		ErrorLog: loggingutils.NewStdLogger(httpLogger),
	}
	g.Go(func() error {
		n.logger.Info("Starting http server", zap.String("address", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("Error running HTTP server", zap.Error(err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if n.serfAgent != nil {
		// Run serf agent
		g.Go(func() error {
			if err := n.serfAgent.Start(); errors.Is(err, serfagent.ErrStopped) {
				// shutdown won the race, nothing to run
				return nil
			} else if err != nil {
				can()
				n.logger.Error("serf agent failed to start", zap.Error(err))
				return err
			}
			n.logger.Info("serf agent started", zap.Bool("isSeed", n.config.IsSerfSeed), zap.String("node-name", n.serfAgent.SerfConfig().NodeName))
			if !n.config.IsSerfSeed {
				n.logger.Info("joining serf cluster using", zap.Strings("peers", n.config.SerfJoinAddrs))
				const replay = false
				if _, err := n.serfAgent.Join(n.config.SerfJoinAddrs, replay); err != nil {
					can()
					return err
				}
			}

			<-n.serfAgent.ShutdownCh() // wait for the serf agent to shutdown
			can()
			n.logger.Info("The serf agent shutdown successfully")
			return nil
		})

		// Go routine to cleanup serf agent on shutdown
		g.Go(func() error {
			<-ctx.Done()
			n.logger.Info("Stopping serf agent")
			if err := n.serfAgent.Leave(); err != nil {
				n.logger.Warn("serf leave failed", zap.Error(err))
			}
			return n.serfAgent.Shutdown()
		})
	}

	// Handler for Ctrl+C
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer signal.Stop(signalChan)
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-signalChan:
			can()
		}
		return nil
	})

	n.logger.Info("Server started",
		zap.String("backend", n.config.Backend),
		zap.Bool("persistent", n.backend != nil),
		zap.String("http", n.config.HTTPAddress()),
		zap.String("raft", n.config.RaftAddress()))
	err := g.Wait()

	// the backend goes last, after every agent that might still use it
	if n.backend != nil {
		n.logger.Info("Closing persistence backend")
		if cerr := n.backend.Close(); cerr != nil {
			n.logger.Warn("closing persistence backend", zap.Error(cerr))
		}
	}
	if err != nil {
		n.logger.Warn("Child workers returned an error", zap.Error(err))
		return err
	}
	n.logger.Info("Clean shutdown")
	return nil
}
