package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplicaID extracts the raft replica id from a node name of the form "node-<id>".
func ReplicaID(nodeName string) (uint64, error) {
	idx := strings.LastIndex(nodeName, "-")
	if idx < 0 {
		return 0, fmt.Errorf("node name %q must look like node-<id>", nodeName)
	}
	replicaID, err := strconv.ParseUint(nodeName[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse replica id from %s: %w", nodeName, err)
	}
	if replicaID == 0 {
		return 0, fmt.Errorf("replica id in %s must be non-zero", nodeName)
	}
	return replicaID, nil
}
