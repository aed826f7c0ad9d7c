package serf

import (
	"strconv"
	"time"

	"github.com/epsniff/runfactory/pkg/config"
	"github.com/epsniff/runfactory/pkg/loggingutils"
	"github.com/epsniff/runfactory/pkg/version"
	"github.com/hashicorp/memberlist"
	"github.com/hashicorp/serf/serf"
	"go.uber.org/zap"
)

// Tag names advertised by every member, read back by the server's cluster metadata.
const (
	TagRole     = "role"
	TagVersion  = "ver"
	TagID       = "id"
	TagRaftAddr = "raft_addr"
	TagRaftPort = "raft_port"
	TagHTTPAddr = "http_addr"
	TagHTTPPort = "http_port"
	TagBoot     = "bootstrap"
)

func createSerfConfig(config *config.Config, logger *zap.Logger, ch chan serf.Event, snapshotPath string) *serf.Config {
	serfConfig := serf.DefaultConfig()
	serfConfig.Init()

	// ver 5 is the serf.ProtocolVersionMax at the time of this writing
	serfConfig.ProtocolVersion = 5
	// LeavePropagateDelay is used to make sure broadcasted leave intents propagate
	serfConfig.LeavePropagateDelay = 1 * time.Second
	serfConfig.SnapshotPath = snapshotPath
	serfConfig.CoalescePeriod = 3 * time.Second
	serfConfig.QuiescentPeriod = time.Second
	serfConfig.Logger = loggingutils.NewStdLogger(logger.Named("serf"))
	serfConfig.LogOutput = nil

	serfConfig.EventCh = ch

	serfConfig.MemberlistConfig = memberlist.DefaultLANConfig()
	serfConfig.MemberlistConfig.Logger = loggingutils.NewStdLogger(logger.Named("memberlist"))
	serfConfig.MemberlistConfig.LogOutput = nil
	serfConfig.MemberlistConfig.BindAddr = config.SerfBindAddress
	serfConfig.MemberlistConfig.BindPort = config.SerfBindPort
	serfConfig.MemberlistConfig.AdvertiseAddr = config.SerfAdvertiseAddr
	serfConfig.MemberlistConfig.AdvertisePort = config.SerfAdvertisePort
	serfConfig.MemberlistConfig.EnableCompression = true

	serfConfig.NodeName = config.NodeName
	serfConfig.Tags[TagRole] = "runfactory"
	serfConfig.Tags[TagVersion] = version.ServerVersion
	serfConfig.Tags[TagID] = config.ID()
	serfConfig.Tags[TagRaftAddr] = config.RaftBindAddress
	serfConfig.Tags[TagRaftPort] = strconv.Itoa(config.RaftBindPort)
	serfConfig.Tags[TagHTTPAddr] = config.HTTPBindAddress
	serfConfig.Tags[TagHTTPPort] = strconv.Itoa(config.HTTPBindPort)
	if config.Bootstrap {
		serfConfig.Tags[TagBoot] = "1"
	}

	return serfConfig
}
