package config

import (
	"os"
	"path/filepath"
	"strings"

	flag "github.com/ogier/pflag"
)

type Args struct {
	BindAddress          string
	RaftPort             int
	SerfPort             int
	SerfAdvertiseAddress string
	SerfAdvertisePort    int
	SerfJoinAddrs        []string
	HTTPPort             int
	DataDir              string
	Backend              string
	Bootstrap            bool
	IsSeed               bool
	NodeName             string
}

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendRaft   = "raft"
)

var (
	defaultNodeName = "node-1"

	defaultBindAddress          = "127.0.0.1"
	defaultSerfPort             = 6000
	defaultSerfAdvertiseAddress = ""
	defaultSerfAdvertisePort    = 0

	defaultRaftPort = 7000
	defaultHTTPPort = 8000

	defaultBackend = BackendPebble

	defaultBootstrap = false
	defaultIsSeed    = false
)

func defaultDataDir() string {
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	return filepath.Join(pwd, "runfactory-data")
}

func DefaultArgs() *Args {
	return &Args{
		BindAddress:          defaultBindAddress,
		RaftPort:             defaultRaftPort,
		SerfPort:             defaultSerfPort,
		SerfAdvertiseAddress: defaultSerfAdvertiseAddress,
		SerfAdvertisePort:    defaultSerfAdvertisePort,
		SerfJoinAddrs:        []string{},
		HTTPPort:             defaultHTTPPort,
		DataDir:              defaultDataDir(),
		Backend:              defaultBackend,
		Bootstrap:            defaultBootstrap,
		IsSeed:               defaultIsSeed,
		NodeName:             defaultNodeName,
	}
}

// ParseArgs parses command line arguments (without the program name) on top of DefaultArgs.
func ParseArgs(arguments []string) (*Args, error) {
	var parsedArgs = DefaultArgs()

	fs := flag.NewFlagSet("runfactory", flag.ContinueOnError)
	fs.StringVarP(&parsedArgs.DataDir, "data-dir", "D",
		parsedArgs.DataDir, "Path in which to store worker state, raft and serf data")
	fs.StringVarP(&parsedArgs.Backend, "backend", "b",
		parsedArgs.Backend, "Persistence backend for worker state: none, memory, pebble or raft")
	fs.StringVarP(&parsedArgs.BindAddress, "bind-address", "a",
		parsedArgs.BindAddress, "IP Address (or go-sockaddr template) on which to bind")
	fs.IntVarP(&parsedArgs.SerfPort, "serf-port", "S",
		parsedArgs.SerfPort, "Port on which to bind serf")
	fs.StringVarP(&parsedArgs.SerfAdvertiseAddress, "advertise-address", "A",
		parsedArgs.SerfAdvertiseAddress, "IP Address on which to advertise to other members of the cluster")
	fs.IntVarP(&parsedArgs.SerfAdvertisePort, "serf-advertise-port", "T",
		parsedArgs.SerfAdvertisePort, "Port on which to advertise serf on")
	var serfJoinAddrsStr string
	fs.StringVarP(&serfJoinAddrsStr, "serf-join", "Z",
		"", "Comma separated list of serf addresses to join at start time. Required unless --is-seed.")
	fs.IntVarP(&parsedArgs.RaftPort, "raft-port", "R",
		parsedArgs.RaftPort, "Port on which to bind Raft")
	fs.IntVarP(&parsedArgs.HTTPPort, "http-port", "H",
		parsedArgs.HTTPPort, "Port on which to bind the HTTP admin API")
	fs.StringVarP(&parsedArgs.NodeName, "node-name", "N",
		parsedArgs.NodeName, "the name to use for this node when gossiping, must be unique and look like node-<replica id>")
	fs.BoolVar(&parsedArgs.Bootstrap, "bootstrap",
		parsedArgs.Bootstrap, "Bootstrap the raft group with this node")
	fs.BoolVar(&parsedArgs.IsSeed, "is-seed",
		parsedArgs.IsSeed, "configure as the first node in the cluster, no serf join addresses required.")

	if err := fs.Parse(arguments); err != nil {
		return nil, err
	}

	for _, addr := range strings.Split(serfJoinAddrsStr, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			parsedArgs.SerfJoinAddrs = append(parsedArgs.SerfJoinAddrs, addr)
		}
	}

	return parsedArgs, nil
}
