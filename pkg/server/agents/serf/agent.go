package serf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/epsniff/runfactory/pkg/config"
	"github.com/hashicorp/serf/serf"
	"go.uber.org/zap"
)

// EventHandler receives every serf event seen by the agent.
type EventHandler interface {
	HandleEvent(serf.Event)
}

// ErrStopped is returned by Start once the agent has been shut down.
var ErrStopped = errors.New("serf agent: already shut down")

// Agent owns the serf instance that tracks raft peers. Membership events are
// handed to the registered EventHandlers in registration order.
type Agent struct {
	conf    *serf.Config
	eventCh chan serf.Event
	logger  *zap.Logger

	handlersMu sync.RWMutex
	handlers   []EventHandler

	// mu guards serf and the shutdown state
	mu         sync.Mutex
	serf       *serf.Serf
	stopped    bool
	stopErr    error
	shutdownCh chan struct{}
}

func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if err := os.MkdirAll(cfg.SerfDataDir, 0700); err != nil {
		return nil, fmt.Errorf("making serf data dir: %w", err)
	}

	eventCh := make(chan serf.Event, 64)
	return &Agent{
		conf:       createSerfConfig(cfg, logger, eventCh, filepath.Join(cfg.SerfDataDir, "serf_snapshot.serf")),
		eventCh:    eventCh,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start creates the serf instance and begins dispatching events. Handlers
// should be registered before Start so no membership event is missed.
// Start after Shutdown returns ErrStopped.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrStopped
	}
	if a.serf != nil {
		return nil
	}

	a.logger.Info("serf agent starting", zap.String("node-name", a.conf.NodeName))
	s, err := serf.Create(a.conf)
	if err != nil {
		return fmt.Errorf("serf agent: creating serf: %w", err)
	}
	a.serf = s
	go a.eventLoop(s)
	return nil
}

func (a *Agent) instance() *serf.Serf {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serf
}

// Leave announces a graceful departure to the rest of the cluster.
func (a *Agent) Leave() error {
	s := a.instance()
	if s == nil {
		return nil
	}
	a.logger.Info("leaving serf cluster")
	return s.Leave()
}

// Shutdown stops serf. Calling it more than once is fine.
func (a *Agent) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return a.stopErr
	}
	a.stopped = true
	if a.serf != nil {
		a.stopErr = a.serf.Shutdown()
	}
	close(a.shutdownCh)
	a.logger.Info("serf agent stopped", zap.Error(a.stopErr))
	return a.stopErr
}

func (a *Agent) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

func (a *Agent) SerfConfig() *serf.Config {
	return a.conf
}

// Join contacts the given serf addresses. With replay false, user events
// that happened before the join are ignored.
func (a *Agent) Join(addrs []string, replay bool) (int, error) {
	s := a.instance()
	if s == nil {
		return 0, fmt.Errorf("serf agent: join before start")
	}
	n, err := s.Join(addrs, !replay)
	if err != nil {
		a.logger.Error("serf join failed", zap.Strings("peers", addrs), zap.Error(err))
		return n, fmt.Errorf("serf agent: joining %v: %w", addrs, err)
	}
	a.logger.Info("joined serf cluster", zap.Int("contacted", n), zap.Strings("peers", addrs))
	return n, nil
}

func (a *Agent) RegisterEventHandler(eh EventHandler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	for _, h := range a.handlers {
		if h == eh {
			return
		}
	}
	a.handlers = append(a.handlers, eh)
}

func (a *Agent) dispatch(e serf.Event) {
	a.handlersMu.RLock()
	handlers := a.handlers
	a.handlersMu.RUnlock()
	for _, h := range handlers {
		h.HandleEvent(e)
	}
}

func (a *Agent) eventLoop(s *serf.Serf) {
	serfStopped := s.ShutdownCh()
	for {
		select {
		case e := <-a.eventCh:
			a.logger.Debug("serf event", zap.String("event", e.String()))
			a.dispatch(e)
		case <-serfStopped:
			a.logger.Warn("serf stopped underneath the agent")
			// Shutdown may be in progress and holding mu
			go a.Shutdown()
			return
		case <-a.shutdownCh:
			return
		}
	}
}
