package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Initialize sets up the Snowflake ID generator with a node ID
func Initialize(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewRequestID generates an ID used to correlate log lines of one provider call
func NewRequestID() string {
	// Initialize with default node ID if not already initialized
	_ = Initialize(1)
	if node == nil {
		return ""
	}
	return node.Generate().String()
}
