package workerstate

import (
	"errors"
	"sync"
	"testing"

	"github.com/epsniff/runfactory/pkg/persistence"
	"github.com/epsniff/runfactory/pkg/persistence/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testDefaults = Defaults{
	ResourceDir:           "/opt/rf",
	ExecuteWorkflowScript: "/opt/rf/executeWorkflow.sh",
	ServerWorkerJar:       "/opt/rf/util/server.worker.jar",
	JavaBinary:            "/usr/lib/jvm/bin/java",
}

// countingBackend records how many transactions reach the wrapped backend and
// can be told to fail them.
type countingBackend struct {
	persistence.Backend
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingBackend) InTransaction(fn func(tx persistence.Tx) error) error {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Backend.InTransaction(fn)
}

func (c *countingBackend) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newState(backend persistence.Backend) *State {
	return New(testDefaults, backend, zap.NewNop())
}

func TestState_FreshBackendReturnsDefaults(t *testing.T) {
	s := newState(memstore.New(zap.NewNop()))

	got, err := s.Settings()
	require.NoError(t, err)
	assert.Equal(t, Settings{
		DefaultLifetime:          DefaultLifetime,
		MaxRuns:                  DefaultMaxRuns,
		FactoryProcessNamePrefix: DefaultPrefix,
		ExecuteWorkflowScript:    testDefaults.ExecuteWorkflowScript,
		ExtraArgs:                []string{},
		WaitSeconds:              DefaultWait,
		SleepMS:                  DefaultSleepMS,
		ServerWorkerJar:          testDefaults.ServerWorkerJar,
		JavaBinary:               testDefaults.JavaBinary,
		RegistryPort:             RegistryPort,
	}, got)

	_, ok, err := s.RegistryHost()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestState_IntegerSentinelsFallBack(t *testing.T) {
	fields := []struct {
		name string
		set  func(*State, int) error
		get  func(*State) (int, error)
		def  int
	}{
		{"DefaultLifetime", (*State).SetDefaultLifetime, (*State).DefaultLifetime, DefaultLifetime},
		{"MaxRuns", (*State).SetMaxRuns, (*State).MaxRuns, DefaultMaxRuns},
		{"WaitSeconds", (*State).SetWaitSeconds, (*State).WaitSeconds, DefaultWait},
		{"SleepMS", (*State).SetSleepMS, (*State).SleepMS, DefaultSleepMS},
	}

	for _, f := range fields {
		for _, raw := range []int{0, -1, -100} {
			s := newState(memstore.New(zap.NewNop()))
			require.NoError(t, f.set(s, raw))
			got, err := f.get(s)
			require.NoError(t, err)
			assert.Equal(t, f.def, got, "%s set to %d", f.name, raw)
		}

		s := newState(memstore.New(zap.NewNop()))
		require.NoError(t, f.set(s, 17))
		got, err := f.get(s)
		require.NoError(t, err)
		assert.Equal(t, 17, got, f.name)
	}
}

func TestState_StringSettings(t *testing.T) {
	fields := []struct {
		name string
		set  func(*State, string) error
		get  func(*State) (string, error)
		def  string
	}{
		{"FactoryProcessNamePrefix", (*State).SetFactoryProcessNamePrefix, (*State).FactoryProcessNamePrefix, DefaultPrefix},
		{"ExecuteWorkflowScript", (*State).SetExecuteWorkflowScript, (*State).ExecuteWorkflowScript, testDefaults.ExecuteWorkflowScript},
		{"ServerWorkerJar", (*State).SetServerWorkerJar, (*State).ServerWorkerJar, testDefaults.ServerWorkerJar},
		{"JavaBinary", (*State).SetJavaBinary, (*State).JavaBinary, testDefaults.JavaBinary},
	}

	for _, f := range fields {
		t.Run(f.name, func(t *testing.T) {
			s := newState(memstore.New(zap.NewNop()))
			require.NoError(t, f.set(s, "/custom/value"))
			got, err := f.get(s)
			require.NoError(t, err)
			assert.Equal(t, "/custom/value", got)

			require.NoError(t, f.set(s, ""))
			got, err = f.get(s)
			require.NoError(t, err)
			assert.Equal(t, f.def, got)
		})
	}
}

func TestState_RegistryPort(t *testing.T) {
	tests := []struct {
		name string
		port int
		want int
	}{
		{"valid", 2099, 2099},
		{"lowest", 1, 1},
		{"highest", MaxPort, MaxPort},
		{"zero", 0, RegistryPort},
		{"negative", -3, RegistryPort},
		{"too large", 70000, RegistryPort},
		{"65535", 65535, RegistryPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState(memstore.New(zap.NewNop()))
			require.NoError(t, s.SetRegistryPort(tt.port))
			got, err := s.RegistryPort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_RegistryHost(t *testing.T) {
	s := newState(memstore.New(zap.NewNop()))

	require.NoError(t, s.SetRegistryHost("registry.example.org"))
	host, ok, err := s.RegistryHost()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "registry.example.org", host)

	require.NoError(t, s.SetRegistryHost(""))
	host, ok, err = s.RegistryHost()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, host)
}

func TestState_ExtraArgsAreCopied(t *testing.T) {
	s := newState(memstore.New(zap.NewNop()))

	args := []string{"-Xmx1g", "-Dfoo=bar"}
	require.NoError(t, s.SetExtraArgs(args))
	args[0] = "mutated"

	got, err := s.ExtraArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"-Xmx1g", "-Dfoo=bar"}, got)

	got[1] = "mutated"
	again, err := s.ExtraArgs()
	require.NoError(t, err)
	assert.Equal(t, "-Dfoo=bar", again[1])

	require.NoError(t, s.SetExtraArgs(nil))
	got, err = s.ExtraArgs()
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestState_WithoutBackend(t *testing.T) {
	s := newState(nil)

	require.NoError(t, s.Load())
	lifetime, err := s.DefaultLifetime()
	require.NoError(t, err)
	assert.Equal(t, DefaultLifetime, lifetime)

	require.NoError(t, s.SetMaxRuns(9))
	require.NoError(t, s.SetRegistryPort(70000))
	require.NoError(t, s.SetRegistryHost(""))

	maxRuns, err := s.MaxRuns()
	require.NoError(t, err)
	assert.Equal(t, 9, maxRuns)
	port, err := s.RegistryPort()
	require.NoError(t, err)
	assert.Equal(t, RegistryPort, port)
	_, ok, err := s.RegistryHost()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestState_PersistsAcrossInstances(t *testing.T) {
	backend := memstore.New(zap.NewNop())

	first := newState(backend)
	require.NoError(t, first.SetMaxRuns(12))
	require.NoError(t, first.SetExtraArgs([]string{"-v"}))
	require.NoError(t, first.SetRegistryHost("rmi.local"))

	second := newState(backend)
	maxRuns, err := second.MaxRuns()
	require.NoError(t, err)
	assert.Equal(t, 12, maxRuns)
	args, err := second.ExtraArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{"-v"}, args)
	host, ok, err := second.RegistryHost()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "rmi.local", host)
}

func TestState_SetBeforeGetKeepsPersistedFields(t *testing.T) {
	backend := memstore.New(zap.NewNop())
	require.NoError(t, newState(backend).SetMaxRuns(7))

	// a fresh instance that writes first must not clobber MaxRuns
	require.NoError(t, newState(backend).SetWaitSeconds(3))

	got, err := newState(backend).Settings()
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxRuns)
	assert.Equal(t, 3, got.WaitSeconds)
}

func TestState_LoadsOnlyOnce(t *testing.T) {
	backend := &countingBackend{Backend: memstore.New(zap.NewNop())}
	s := newState(backend)

	for i := 0; i < 5; i++ {
		_, err := s.MaxRuns()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, backend.Calls())

	// each write is its own transaction, no further loads
	require.NoError(t, s.SetMaxRuns(3))
	require.NoError(t, s.SetSleepMS(10))
	_, err := s.Settings()
	require.NoError(t, err)
	assert.Equal(t, 3, backend.Calls())
}

func TestState_BackendErrorsPropagate(t *testing.T) {
	boom := errors.New("backend down")
	backend := &countingBackend{Backend: memstore.New(zap.NewNop()), err: boom}
	s := newState(backend)

	_, err := s.MaxRuns()
	assert.ErrorIs(t, err, boom)
	_, _, err = s.RegistryHost()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.SetMaxRuns(4), boom)

	// the failed load is retried once the backend recovers
	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()
	maxRuns, err := s.MaxRuns()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRuns, maxRuns)
}

func TestState_MalformedRecordIsNormalized(t *testing.T) {
	backend := memstore.New(zap.NewNop())
	require.NoError(t, backend.InTransaction(func(tx persistence.Tx) error {
		return tx.Put(RecordKey, record{MaxRuns: -4, RegistryPort: 99999, SleepMS: 0})
	}))

	got, err := newState(backend).Settings()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRuns, got.MaxRuns)
	assert.Equal(t, RegistryPort, got.RegistryPort)
	assert.Equal(t, DefaultSleepMS, got.SleepMS)
}

func TestState_ConcurrentSettersDoNotLoseWrites(t *testing.T) {
	backend := memstore.New(zap.NewNop())
	s := newState(backend)

	setters := []func() error{
		func() error { return s.SetDefaultLifetime(31) },
		func() error { return s.SetMaxRuns(32) },
		func() error { return s.SetFactoryProcessNamePrefix("P.") },
		func() error { return s.SetExecuteWorkflowScript("/x.sh") },
		func() error { return s.SetExtraArgs([]string{"a"}) },
		func() error { return s.SetWaitSeconds(33) },
		func() error { return s.SetSleepMS(34) },
		func() error { return s.SetServerWorkerJar("/w.jar") },
		func() error { return s.SetJavaBinary("/java") },
		func() error { return s.SetRegistryHost("h") },
		func() error { return s.SetRegistryPort(35) },
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(setters))
	for _, set := range setters {
		wg.Add(1)
		go func(set func() error) {
			defer wg.Done()
			errs <- set()
		}(set)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := newState(backend).Settings()
	require.NoError(t, err)
	assert.Equal(t, Settings{
		DefaultLifetime:          31,
		MaxRuns:                  32,
		FactoryProcessNamePrefix: "P.",
		ExecuteWorkflowScript:    "/x.sh",
		ExtraArgs:                []string{"a"},
		WaitSeconds:              33,
		SleepMS:                  34,
		ServerWorkerJar:          "/w.jar",
		JavaBinary:               "/java",
		RegistryHost:             "h",
		RegistryPort:             35,
	}, got)
}
