// Package model defines the data types shared across the ingestion
// pipeline: raw kernel events, enriched events, and the per-process /
// per-destination aggregates the store maintains over them.
package model

import "fmt"

// RawEvent is the decoded form of the fixed-layout kernel record (see
// internal/kernelsrc/decode.go for the wire layout). Addresses are host-order after
// decode.
type RawEvent struct {
	TimestampNs uint64
	PID         uint32
	Comm        string
	Cmdline     string
	SAddr       uint32
	DAddr       uint32
	SPort       uint16
	DPort       uint16
	Protocol    uint8
}

// ConnectionID uniquely identifies a RawEvent for dedup purposes.
type ConnectionID struct {
	TimestampNs uint64
	PID         uint32
	SAddr       uint32
	SPort       uint16
	DAddr       uint32
	DPort       uint16
}

// String renders the ID the way the netviz prototype built its dedup
// key: "ts_pid_saddr_sport_daddr_dport".
func (c ConnectionID) String() string {
	return fmt.Sprintf("%d_%d_%d_%d_%d_%d", c.TimestampNs, c.PID, c.SAddr, c.SPort, c.DAddr, c.DPort)
}

// ID derives the ConnectionID of a raw event.
func (e RawEvent) ID() ConnectionID {
	return ConnectionID{
		TimestampNs: e.TimestampNs,
		PID:         e.PID,
		SAddr:       e.SAddr,
		SPort:       e.SPort,
		DAddr:       e.DAddr,
		DPort:       e.DPort,
	}
}

// EnrichedEvent extends RawEvent with process metadata and a threat
// verdict. Fields are tagged for the exact wire shape the broker and
// query surface serialize.
type EnrichedEvent struct {
	TimestampNs int64  `json:"timestamp"`
	PID         uint32 `json:"pid"`
	Comm        string `json:"comm"`
	Cmdline     string `json:"cmdline"`

	SAddr uint32 `json:"-"`
	DAddr uint32 `json:"-"`
	SPort uint16 `json:"sport"`
	DPort uint16 `json:"dport"`

	SrcIP       string `json:"src_ip"`
	DstIP       string `json:"dst_ip"`
	ProtocolStr string `json:"protocol_str"`

	ProcessName    string  `json:"process_name"`
	ExePath        string  `json:"exe_path"`
	Username       string  `json:"username"`
	Status         string  `json:"status"`
	ParentPID      uint32  `json:"parent_pid"`
	CreateTimeUnix float64 `json:"create_time"`
	CmdlineFull    string  `json:"cmdline_full"`

	IsPrivate   bool   `json:"is_private"`
	IsSafePort  bool   `json:"is_safe_port"`
	CountryCode string `json:"country_code"`

	ThreatScore  uint8 `json:"threat_score"`
	IsSuspicious bool  `json:"is_suspicious"`
}

// ID derives this event's ConnectionID (same key the RawEvent it came
// from would produce).
func (e EnrichedEvent) ID() ConnectionID {
	return ConnectionID{
		TimestampNs: uint64(e.TimestampNs),
		PID:         e.PID,
		SAddr:       e.SAddr,
		SPort:       e.SPort,
		DAddr:       e.DAddr,
		DPort:       e.DPort,
	}
}
