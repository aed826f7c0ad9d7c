package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	multierror "github.com/hashicorp/go-multierror"
	template "github.com/hashicorp/go-sockaddr/template"
)

type Config struct {
	NodeName string

	HTTPBindAddress string
	HTTPBindPort    int

	RaftBindAddress string
	RaftBindPort    int

	SerfBindAddress   string
	SerfBindPort      int
	SerfAdvertiseAddr string
	SerfAdvertisePort int
	SerfJoinAddrs     []string
	IsSerfSeed        bool

	Bootstrap bool

	Backend     string
	DataDir     string
	PebbleDir   string
	RaftDataDir string
	SerfDataDir string
}

// ID is the node's unique name in the cluster.
func (c *Config) ID() string {
	return c.NodeName
}

func (c *Config) HTTPAddress() string {
	return net.JoinHostPort(c.HTTPBindAddress, strconv.Itoa(c.HTTPBindPort))
}

func (c *Config) RaftAddress() string {
	return net.JoinHostPort(c.RaftBindAddress, strconv.Itoa(c.RaftBindPort))
}

type ConfigError struct {
	ConfigurationPoint string
	Err                error
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", err.ConfigurationPoint, err.Err.Error())
}

func (err *ConfigError) Unwrap() error {
	return err.Err
}

func validatePort(errors *multierror.Error, point string, port int) *multierror.Error {
	if port < 1 || port > 65535 {
		return multierror.Append(errors, &ConfigError{
			ConfigurationPoint: point,
			Err:                fmt.Errorf("port numbers must be 1 <= port <= 65535, got %d", port),
		})
	}
	return errors
}

func resolveAddress(errors *multierror.Error, point, addr string) (string, *multierror.Error) {
	resolved, err := template.Parse(addr)
	if err != nil {
		return "", multierror.Append(errors, &ConfigError{
			ConfigurationPoint: point,
			Err:                err,
		})
	}
	if net.ParseIP(resolved) == nil {
		return "", multierror.Append(errors, &ConfigError{
			ConfigurationPoint: point,
			Err:                fmt.Errorf("cannot parse IP address: %s", resolved),
		})
	}
	return resolved, errors
}

// LoadConfig validates args, collecting every problem rather than stopping at the first.
func LoadConfig(args *Args) (*Config, error) {
	var errors *multierror.Error

	bindAddr, errors := resolveAddress(errors, "bind-address", args.BindAddress)

	var advertiseAddr string
	if args.SerfAdvertiseAddress != "" {
		advertiseAddr, errors = resolveAddress(errors, "advertise-address", args.SerfAdvertiseAddress)
	}

	errors = validatePort(errors, "raft-port", args.RaftPort)
	errors = validatePort(errors, "serf-port", args.SerfPort)
	errors = validatePort(errors, "http-port", args.HTTPPort)
	if args.SerfAdvertisePort != 0 {
		errors = validatePort(errors, "serf-advertise-port", args.SerfAdvertisePort)
	}

	switch args.Backend {
	case BackendNone, BackendMemory, BackendPebble:
	case BackendRaft:
		if _, err := ReplicaID(args.NodeName); err != nil {
			errors = multierror.Append(errors, &ConfigError{
				ConfigurationPoint: "node-name",
				Err:                err,
			})
		}
		if !args.IsSeed && len(args.SerfJoinAddrs) == 0 {
			errors = multierror.Append(errors, &ConfigError{
				ConfigurationPoint: "serf-join",
				Err:                fmt.Errorf("at least one join address is required unless --is-seed is set"),
			})
		}
	default:
		errors = multierror.Append(errors, &ConfigError{
			ConfigurationPoint: "backend",
			Err:                fmt.Errorf("unknown backend %q", args.Backend),
		})
	}

	dataDir, err := filepath.Abs(args.DataDir)
	if err != nil {
		errors = multierror.Append(errors, &ConfigError{
			ConfigurationPoint: "data-dir",
			Err:                err,
		})
	}

	if err := errors.ErrorOrNil(); err != nil {
		return nil, err
	}

	return &Config{
		NodeName:          args.NodeName,
		HTTPBindAddress:   bindAddr,
		HTTPBindPort:      args.HTTPPort,
		RaftBindAddress:   bindAddr,
		RaftBindPort:      args.RaftPort,
		SerfBindAddress:   bindAddr,
		SerfBindPort:      args.SerfPort,
		SerfAdvertiseAddr: advertiseAddr,
		SerfAdvertisePort: args.SerfAdvertisePort,
		SerfJoinAddrs:     args.SerfJoinAddrs,
		IsSerfSeed:        args.IsSeed,
		Bootstrap:         args.Bootstrap,
		Backend:           args.Backend,
		DataDir:           dataDir,
		PebbleDir:         filepath.Join(dataDir, "pebble"),
		RaftDataDir:       filepath.Join(dataDir, "raft", args.NodeName),
		SerfDataDir:       filepath.Join(dataDir, "serf"),
	}, nil
}
