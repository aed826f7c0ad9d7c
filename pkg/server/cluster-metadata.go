package server

import (
	"fmt"
	"net"
	"sync"

	serfagent "github.com/epsniff/runfactory/pkg/server/agents/serf"
	"github.com/hashicorp/serf/serf"
)

type metadata struct {
	mu sync.RWMutex

	nodesById      map[string]*nodedata
	nodesByRaftAdd map[string]*nodedata
}

func NewMetadata() *metadata {
	return &metadata{
		nodesById:      map[string]*nodedata{},
		nodesByRaftAdd: map[string]*nodedata{},
	}
}

func (m *metadata) Add(me serf.Member) (*nodedata, error) {
	meta, err := nodeDataFromSerf(me)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodesById[meta.id] = meta
	m.nodesByRaftAdd[meta.raftAddr] = meta
	return meta, nil
}

func (m *metadata) Remove(me serf.Member) {
	id, ok := me.Tags[serfagent.TagID]
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.nodesById[id]; ok {
		delete(m.nodesByRaftAdd, meta.raftAddr)
		delete(m.nodesById, id)
	}
}

func (m *metadata) FindByRaftAddr(n string) (*nodedata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.nodesByRaftAdd[n]
	return meta, ok
}

type nodedata struct {
	id       string
	raftAddr string
	httpAddr string
}

func requireTag(m serf.Member, tag string) (string, error) {
	v, ok := m.Tags[tag]
	if !ok {
		return "", fmt.Errorf("metadata: member %s is missing the `%s` tag", m.Name, tag)
	}
	return v, nil
}

func nodeDataFromSerf(m serf.Member) (*nodedata, error) {
	var vals [5]string
	for i, tag := range []string{
		serfagent.TagID,
		serfagent.TagRaftAddr, serfagent.TagRaftPort,
		serfagent.TagHTTPAddr, serfagent.TagHTTPPort,
	} {
		v, err := requireTag(m, tag)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	return &nodedata{
		id:       vals[0],
		raftAddr: net.JoinHostPort(vals[1], vals[2]),
		httpAddr: net.JoinHostPort(vals[3], vals[4]),
	}, nil
}

func (n *nodedata) ID() string {
	return n.id
}

func (n *nodedata) RaftAddr() string {
	return n.raftAddr
}

func (n *nodedata) HttpAddr() string {
	return n.httpAddr
}
