package workerstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/epsniff/runfactory/pkg/persistence"
	"go.uber.org/zap"
)

// State is the persistent configuration of the local worker factory. It loads
// its record lazily on first use and writes the whole record through to the
// backend on every change.
//
// With a nil backend nothing is ever loaded or stored and every getter answers
// from the in-memory values and the defaults.
type State struct {
	mu       sync.Mutex
	backend  persistence.Backend
	logger   *zap.Logger
	defaults Defaults

	loaded bool
	rec    record
}

func New(defaults Defaults, backend persistence.Backend, logger *zap.Logger) *State {
	if backend == nil {
		logger.Warn("no persistence backend configured, worker state will not survive a restart")
	}
	return &State{
		backend:  backend,
		logger:   logger,
		defaults: defaults,
	}
}

// Load reads the persisted record once. Later calls, and calls without a
// backend, do nothing. A failed load is retried on the next access.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *State) loadLocked() error {
	if s.loaded || s.backend == nil {
		return nil
	}
	var rec record
	err := s.backend.InTransaction(func(tx persistence.Tx) error {
		err := tx.Get(RecordKey, &rec)
		if errors.Is(err, persistence.ErrNotFound) {
			s.logger.Debug("no persisted worker state, using defaults")
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("loading worker state: %w", err)
	}
	s.rec = rec
	s.loaded = true
	s.logger.Debug("worker state loaded")
	return nil
}

func (s *State) storeLocked() error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.InTransaction(func(tx persistence.Tx) error {
		var existing record
		err := tx.Get(RecordKey, &existing)
		if errors.Is(err, persistence.ErrNotFound) {
			s.logger.Info("creating persisted worker state", zap.Stringer("key", RecordKey))
		} else if err != nil {
			return err
		}
		return tx.Put(RecordKey, s.rec)
	})
	if err != nil {
		return fmt.Errorf("storing worker state: %w", err)
	}
	s.loaded = true
	return nil
}

// update applies fn to the in-memory record and writes the result through.
func (s *State) update(fn func(r *record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	fn(&s.rec)
	return s.storeLocked()
}

func (s *State) settings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return Settings{}, err
	}
	return s.rec.effective(s.defaults), nil
}

// Settings returns the effective value of every setting at once.
func (s *State) Settings() (Settings, error) {
	return s.settings()
}

// DefaultLifetime is how long a workflow run lives by default, in minutes.
func (s *State) DefaultLifetime() (int, error) {
	st, err := s.settings()
	return st.DefaultLifetime, err
}

func (s *State) SetDefaultLifetime(minutes int) error {
	return s.update(func(r *record) { r.DefaultLifetime = minutes })
}

// MaxRuns is the maximum number of runs that may exist at once, including
// runs that are only kept around for file transfer.
func (s *State) MaxRuns() (int, error) {
	st, err := s.settings()
	return st.MaxRuns, err
}

func (s *State) SetMaxRuns(maxRuns int) error {
	return s.update(func(r *record) { r.MaxRuns = maxRuns })
}

// FactoryProcessNamePrefix is prepended to the registry names of factory processes.
func (s *State) FactoryProcessNamePrefix() (string, error) {
	st, err := s.settings()
	return st.FactoryProcessNamePrefix, err
}

func (s *State) SetFactoryProcessNamePrefix(prefix string) error {
	return s.update(func(r *record) { r.FactoryProcessNamePrefix = prefix })
}

// ExecuteWorkflowScript is the full path of the script that starts a workflow run.
func (s *State) ExecuteWorkflowScript() (string, error) {
	st, err := s.settings()
	return st.ExecuteWorkflowScript, err
}

func (s *State) SetExecuteWorkflowScript(path string) error {
	return s.update(func(r *record) { r.ExecuteWorkflowScript = path })
}

// ExtraArgs are passed to every worker subprocess. The returned slice is a copy.
func (s *State) ExtraArgs() ([]string, error) {
	st, err := s.settings()
	return st.ExtraArgs, err
}

func (s *State) SetExtraArgs(args []string) error {
	var stored []string
	if args != nil {
		stored = make([]string, len(args))
		copy(stored, args)
	}
	return s.update(func(r *record) { r.ExtraArgs = stored })
}

// WaitSeconds bounds how long subprocess startup may take.
func (s *State) WaitSeconds() (int, error) {
	st, err := s.settings()
	return st.WaitSeconds, err
}

func (s *State) SetWaitSeconds(seconds int) error {
	return s.update(func(r *record) { r.WaitSeconds = seconds })
}

// SleepMS is the polling interval used while waiting for subprocess startup.
func (s *State) SleepMS() (int, error) {
	st, err := s.settings()
	return st.SleepMS, err
}

func (s *State) SetSleepMS(millis int) error {
	return s.update(func(r *record) { r.SleepMS = millis })
}

// ServerWorkerJar is the full path of the worker implementation jar.
func (s *State) ServerWorkerJar() (string, error) {
	st, err := s.settings()
	return st.ServerWorkerJar, err
}

func (s *State) SetServerWorkerJar(path string) error {
	return s.update(func(r *record) { r.ServerWorkerJar = path })
}

// JavaBinary is the full path of the java executable used to run workers.
func (s *State) JavaBinary() (string, error) {
	st, err := s.settings()
	return st.JavaBinary, err
}

func (s *State) SetJavaBinary(path string) error {
	return s.update(func(r *record) { r.JavaBinary = path })
}

// RegistryHost reports the RMI registry host, ok is false when none is set.
func (s *State) RegistryHost() (host string, ok bool, err error) {
	st, err := s.settings()
	if err != nil {
		return "", false, err
	}
	return st.RegistryHost, st.RegistryHost != "", nil
}

func (s *State) SetRegistryHost(host string) error {
	return s.update(func(r *record) { r.RegistryHost = host })
}

func (s *State) RegistryPort() (int, error) {
	st, err := s.settings()
	return st.RegistryPort, err
}

// SetRegistryPort stores the port, replacing anything outside 1..65534 with
// the well known registry port.
func (s *State) SetRegistryPort(port int) error {
	return s.update(func(r *record) { r.RegistryPort = portOr(port) })
}
