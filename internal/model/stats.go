package model

// DestRecord is one entry of a ProcessStats recent-connection deque:
// a destination/port observed at a point in time.
type DestRecord struct {
	TimestampUnix float64
	DAddr         uint32
	DPort         uint16
}

// ProcessStats is the session-cumulative aggregate kept for one pid.
// Entries are never decremented on store eviction — see spec §4.3.
type ProcessStats struct {
	PID                uint32
	Name               string
	FirstSeenUnix      float64
	LastSeenUnix       float64
	ConnectionCount    uint64
	SuspiciousCount    uint64
	UniqueDestinations map[uint32]struct{}

	// Recent is a FIFO capped at 100 entries (most-recent wins), used
	// by process_details for its per-minute rate. The analyzer keeps
	// its own per-pid history and does not read this field.
	Recent []DestRecord
}

const maxRecentPerProcess = 100

// AddRecent appends a destination record, evicting the oldest entry
// once the deque exceeds its 100-entry cap.
func (p *ProcessStats) AddRecent(rec DestRecord) {
	p.Recent = append(p.Recent, rec)
	if len(p.Recent) > maxRecentPerProcess {
		p.Recent = p.Recent[len(p.Recent)-maxRecentPerProcess:]
	}
}

// ProcessDetails is the response shape for C4.process_details.
type ProcessDetails struct {
	ProcessInfo         ProcessInfoView `json:"process_info"`
	RecentConnections   []EnrichedEvent `json:"recent_connections"`
	TotalConnections    int             `json:"total_connections"`
}

// ProcessInfoView is ProcessStats with the destination set materialized
// as a list for JSON serialization, plus the derived per-minute rate.
type ProcessInfoView struct {
	Name                    string   `json:"name"`
	ConnectionCount         uint64   `json:"connection_count"`
	FirstSeenUnix           float64  `json:"first_seen"`
	LastSeenUnix            float64  `json:"last_seen"`
	UniqueDestinations      []uint32 `json:"unique_destinations"`
	SuspiciousCount         uint64   `json:"suspicious_count"`
	ConnectionRatePerMinute int      `json:"connection_rate_per_minute"`
}

// IPFrequency maps a destination address to how often it has been
// observed in this session.
type IPFrequency map[uint32]uint64

// TopProcess and TopDestination are the sorted-top-N entries reported
// by Statistics().
type TopProcess struct {
	PID                uint32   `json:"pid"`
	Name               string   `json:"name"`
	ConnectionCount    uint64   `json:"connection_count"`
	SuspiciousCount    uint64   `json:"suspicious_count"`
	LastSeenUnix       float64  `json:"last_seen"`
	UniqueDestinations []uint32 `json:"unique_destinations"`
}

type TopDestination struct {
	IP    string `json:"ip"`
	Count uint64 `json:"count"`
}

// Statistics is the response shape for C4.statistics().
type Statistics struct {
	TotalConnections            uint64           `json:"total_connections"`
	ActiveConnections           int              `json:"active_connections"`
	ActiveProcesses             int              `json:"active_processes"`
	SuspiciousConnections       int              `json:"suspicious_connections"`
	SuspiciousPercentage        float64          `json:"suspicious_percentage"`
	UptimeSeconds               float64          `json:"uptime_seconds"`
	AverageConnectionsPerSecond float64          `json:"average_connections_per_second"`
	TopProcesses                []TopProcess     `json:"top_processes"`
	TopDestinations              []TopDestination `json:"top_destinations"`
}
