// Package store maintains the bounded FIFO of recently enriched
// connection events plus the per-PID and per-destination aggregates
// derived from them, guarded by a single coarse mutex in the style of
// the teacher's escrow gate (internal/escrow/gate.go): the lock is held
// only while an operation is in-flight, never across I/O.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/netviz/netviz-go/internal/model"
	"github.com/netviz/netviz-go/internal/telemetry"
)

// ErrNotFound is returned by ProcessDetails when the pid has never
// been observed.
type ErrNotFound struct {
	PID uint32
}

func (e *ErrNotFound) Error() string {
	return "store: no such process tracked"
}

// Store is the Connection Store (C4). Zero value is not usable; use
// New.
type Store struct {
	mu sync.Mutex

	maxConnections   int
	retentionSeconds float64

	queue   []model.ConnectionID          // FIFO, oldest first
	events  map[model.ConnectionID]model.EnrichedEvent
	byPID   map[uint32]*model.ProcessStats
	ipFreq  model.IPFrequency

	totalConnections uint64
	ingestCount      uint64
	startTime        time.Time

	metrics *telemetry.Metrics
}

// New builds an empty Store with the given retention policy. metrics
// may be nil.
func New(maxConnections, retentionMinutes int, metrics *telemetry.Metrics) *Store {
	return &Store{
		maxConnections:   maxConnections,
		retentionSeconds: float64(retentionMinutes) * 60,
		events:           make(map[model.ConnectionID]model.EnrichedEvent),
		byPID:            make(map[uint32]*model.ProcessStats),
		ipFreq:           make(model.IPFrequency),
		startTime:        time.Now(),
		metrics:          metrics,
	}
}

// Ingest appends an enriched event, updates per-PID/per-IP aggregates,
// and evicts to restore the capacity/age invariants. It is idempotent
// on the event's ConnectionID.
func (s *Store) Ingest(ev model.EnrichedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ev.ID()
	if _, exists := s.events[id]; exists {
		return
	}

	s.events[id] = ev
	s.queue = append(s.queue, id)
	s.totalConnections++
	s.ingestCount++

	s.updateAggregates(ev)

	s.evictByCapacity()
	if s.ingestCount%100 == 0 {
		s.evictByAge()
	}
}

func (s *Store) updateAggregates(ev model.EnrichedEvent) {
	stats, ok := s.byPID[ev.PID]
	if !ok {
		stats = &model.ProcessStats{
			PID:                ev.PID,
			Name:               ev.ProcessName,
			FirstSeenUnix:      nowUnix(),
			UniqueDestinations: make(map[uint32]struct{}),
		}
		s.byPID[ev.PID] = stats
	}
	stats.Name = ev.ProcessName
	stats.LastSeenUnix = nowUnix()
	stats.ConnectionCount++
	stats.UniqueDestinations[ev.DAddr] = struct{}{}
	if ev.IsSuspicious {
		stats.SuspiciousCount++
	}
	stats.AddRecent(model.DestRecord{
		TimestampUnix: float64(ev.TimestampNs) / 1e9,
		DAddr:         ev.DAddr,
		DPort:         ev.DPort,
	})

	s.ipFreq[ev.DAddr]++
}

// evictByCapacity drops oldest entries while the FIFO exceeds
// max_connections. O(1) amortised: always removes the queue head.
func (s *Store) evictByCapacity() {
	for s.maxConnections > 0 && len(s.queue) > s.maxConnections {
		s.evictHead()
	}
}

// evictByAge performs the full retention sweep every 100th ingest.
func (s *Store) evictByAge() {
	cutoff := nowUnix() - s.retentionSeconds
	for len(s.queue) > 0 {
		head := s.events[s.queue[0]]
		if float64(head.TimestampNs)/1e9 >= cutoff {
			break
		}
		s.evictHead()
	}
}

func (s *Store) evictHead() {
	if len(s.queue) == 0 {
		return
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.events, id)
	if s.metrics != nil {
		s.metrics.EventsEvicted.Inc()
	}
}

// Recent returns up to limit of the newest enriched events, newest
// first.
func (s *Store) Recent(limit int) []model.EnrichedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.queue) {
		limit = len(s.queue)
	}
	start := len(s.queue) - limit
	out := make([]model.EnrichedEvent, 0, limit)
	for i := len(s.queue) - 1; i >= start; i-- {
		out = append(out, s.events[s.queue[i]])
	}
	return out
}

// ProcessDetails returns the aggregate view for a single pid, its 50
// newest events, and a total count.
func (s *Store) ProcessDetails(pid uint32) (model.ProcessDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.byPID[pid]
	if !ok {
		return model.ProcessDetails{}, &ErrNotFound{PID: pid}
	}

	var matching []model.EnrichedEvent
	for i := len(s.queue) - 1; i >= 0; i-- {
		ev := s.events[s.queue[i]]
		if ev.PID == pid {
			matching = append(matching, ev)
		}
	}
	total := len(matching)
	if total > 50 {
		matching = matching[:50]
	}

	rate := 0
	cutoff := nowUnix() - 60
	for _, rec := range stats.Recent {
		if rec.TimestampUnix >= cutoff {
			rate++
		}
	}

	dests := make([]uint32, 0, len(stats.UniqueDestinations))
	for d := range stats.UniqueDestinations {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	return model.ProcessDetails{
		ProcessInfo: model.ProcessInfoView{
			Name:                    stats.Name,
			ConnectionCount:         stats.ConnectionCount,
			FirstSeenUnix:           stats.FirstSeenUnix,
			LastSeenUnix:            stats.LastSeenUnix,
			UniqueDestinations:      dests,
			SuspiciousCount:         stats.SuspiciousCount,
			ConnectionRatePerMinute: rate,
		},
		RecentConnections: matching,
		TotalConnections:  total,
	}, nil
}

// Statistics returns the store-wide snapshot contract.
func (s *Store) Statistics() model.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUnix()
	uptime := now - unixTime(s.startTime)

	activeProcesses := 0
	for _, st := range s.byPID {
		if now-st.LastSeenUnix < 300 {
			activeProcesses++
		}
	}

	suspicious := 0
	for _, id := range s.queue {
		if s.events[id].IsSuspicious {
			suspicious++
		}
	}

	suspiciousPct := 0.0
	if len(s.queue) > 0 {
		suspiciousPct = float64(suspicious) / float64(len(s.queue)) * 100
	}

	avgRate := 0.0
	if uptime > 0 {
		avgRate = float64(s.totalConnections) / uptime
	}

	return model.Statistics{
		TotalConnections:            s.totalConnections,
		ActiveConnections:           len(s.queue),
		ActiveProcesses:             activeProcesses,
		SuspiciousConnections:       suspicious,
		SuspiciousPercentage:        suspiciousPct,
		UptimeSeconds:               uptime,
		AverageConnectionsPerSecond: avgRate,
		TopProcesses:                s.topProcesses(10),
		TopDestinations:             s.topDestinations(10),
	}
}

func (s *Store) topProcesses(n int) []model.TopProcess {
	out := make([]model.TopProcess, 0, len(s.byPID))
	for pid, st := range s.byPID {
		dests := make([]uint32, 0, len(st.UniqueDestinations))
		for d := range st.UniqueDestinations {
			dests = append(dests, d)
		}
		sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })
		out = append(out, model.TopProcess{
			PID:                pid,
			Name:               st.Name,
			ConnectionCount:    st.ConnectionCount,
			SuspiciousCount:    st.SuspiciousCount,
			LastSeenUnix:       st.LastSeenUnix,
			UniqueDestinations: dests,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectionCount != out[j].ConnectionCount {
			return out[i].ConnectionCount > out[j].ConnectionCount
		}
		if out[i].LastSeenUnix != out[j].LastSeenUnix {
			return out[i].LastSeenUnix > out[j].LastSeenUnix
		}
		return out[i].PID < out[j].PID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (s *Store) topDestinations(n int) []model.TopDestination {
	out := make([]model.TopDestination, 0, len(s.ipFreq))
	for addr, count := range s.ipFreq {
		out = append(out, model.TopDestination{IP: model.DottedQuad(addr), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IP < out[j].IP
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func nowUnix() float64 {
	return unixTime(time.Now())
}

func unixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
