package serf

import (
	"testing"

	"github.com/epsniff/runfactory/pkg/config"
	"github.com/hashicorp/serf/serf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateSerfConfig_Tags(t *testing.T) {
	args := config.DefaultArgs()
	args.NodeName = "node-4"
	args.Bootstrap = true
	args.DataDir = t.TempDir()
	cfg, err := config.LoadConfig(args)
	require.NoError(t, err)

	ch := make(chan serf.Event, 1)
	sc := createSerfConfig(cfg, zap.NewNop(), ch, "/tmp/snap")

	assert.Equal(t, "node-4", sc.NodeName)
	assert.Equal(t, "/tmp/snap", sc.SnapshotPath)
	assert.Equal(t, "127.0.0.1", sc.MemberlistConfig.BindAddr)
	assert.Equal(t, 6000, sc.MemberlistConfig.BindPort)
	assert.Equal(t, map[string]string{
		TagRole:     "runfactory",
		TagVersion:  "0.1.0",
		TagID:       "node-4",
		TagRaftAddr: "127.0.0.1",
		TagRaftPort: "7000",
		TagHTTPAddr: "127.0.0.1",
		TagHTTPPort: "8000",
		TagBoot:     "1",
	}, sc.Tags)
}

type recordingHandler struct {
	events []serf.EventType
}

func (h *recordingHandler) HandleEvent(e serf.Event) {
	h.events = append(h.events, e.EventType())
}

func TestAgent_DispatchesToEachHandlerOnce(t *testing.T) {
	args := config.DefaultArgs()
	args.DataDir = t.TempDir()
	cfg, err := config.LoadConfig(args)
	require.NoError(t, err)

	agent, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	first, second := &recordingHandler{}, &recordingHandler{}
	agent.RegisterEventHandler(first)
	agent.RegisterEventHandler(second)
	agent.RegisterEventHandler(first)

	agent.dispatch(serf.MemberEvent{Type: serf.EventMemberJoin})
	agent.dispatch(serf.MemberEvent{Type: serf.EventMemberLeave})

	want := []serf.EventType{serf.EventMemberJoin, serf.EventMemberLeave}
	assert.Equal(t, want, first.events)
	assert.Equal(t, want, second.events)

	require.NoError(t, agent.Shutdown())
	require.NoError(t, agent.Shutdown())
	<-agent.ShutdownCh()
}

func TestAgent_StartAfterShutdown(t *testing.T) {
	args := config.DefaultArgs()
	args.DataDir = t.TempDir()
	cfg, err := config.LoadConfig(args)
	require.NoError(t, err)

	agent, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, agent.Leave())
	require.NoError(t, agent.Shutdown())
	<-agent.ShutdownCh()

	assert.ErrorIs(t, agent.Start(), ErrStopped)
	assert.Nil(t, agent.instance())
	_, err = agent.Join([]string{"127.0.0.1:6001"}, false)
	assert.Error(t, err)
}
