// flowrecord.go
// establishment record operations

package redisx

import (
	"context"
	"encoding/json"
	"time"
)

const (
	flowPrefix = "flow:"
)

// FlowRecord is the record of one flow establishment. It carries the
// data needed to join with UUID-keyed datasets plus enough context for
// lightweight analysis without a join.
type FlowRecord struct {
	// GitShortCommit is the Git commit (short form) of the running
	// agent code.
	GitShortCommit string `json:"git_short_commit"`

	UUID            string `json:"uuid"`
	FlowID          int    `json:"flow_id"`
	DestinationHost string `json:"destination_host"`
	DestinationPort int    `json:"destination_port"`
	LateConnect     bool   `json:"late_connect"`

	RealReadBufferSize int    `json:"real_read_buffer_size"`
	RealSendBufferSize int    `json:"real_send_buffer_size"`
	CongestionControl  string `json:"congestion_control,omitempty"`
	PathMTU            int    `json:"path_mtu,omitempty"`

	Established time.Time `json:"established"`
}

// PutFlowRecord stores the record under the flow's UUID.
func (c *Client) PutFlowRecord(ctx context.Context, record *FlowRecord) error {
	key := flowPrefix + record.UUID
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	// Establishment records only matter while the flow could still be
	// running, so let them expire.
	return c.rdb.Set(ctx, key, data, time.Hour).Err()
}

// GetFlowRecord returns the record stored for the given UUID.
func (c *Client) GetFlowRecord(ctx context.Context, uuid string) (*FlowRecord, error) {
	data, err := c.rdb.Get(ctx, flowPrefix+uuid).Bytes()
	if err != nil {
		return nil, err
	}
	var record FlowRecord
	err = json.Unmarshal(data, &record)
	return &record, err
}
