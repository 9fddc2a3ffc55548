// Package threat implements the rule-ensemble plus online statistical
// anomaly detector that scores each enriched connection event for
// threat likelihood, grounded on the netviz prototype's
// threat_detector.py.
package threat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netviz/netviz-go/internal/model"
)

const (
	recentHistoryCap = 100
	anomalyWarmup     = 100
	anomalyCap        = 10000
	anomalyTruncateTo = 5000
	anomalyThreshold  = 0.7
	anomalyEpsilon    = 1e-8
)

type historyEntry struct {
	timestampUnix float64
	dstIP         string
	dstPort       uint16
}

// Analyzer is the Threat Analyzer (C5). It keeps its own tracking
// state — destination frequency, per-pid recent-connection history,
// first-seen pids, and the anomaly detector's sample set — independent
// of the Connection Store's aggregates.
type Analyzer struct {
	mu sync.Mutex

	ipFrequency       map[string]uint64
	processHistory    map[uint32][]historyEntry
	processFirstSeen  map[uint32]struct{}

	totalAnalyzed      uint64
	suspiciousDetected uint64
	startTime          time.Time

	samples [][]float64
}

// New returns an empty Analyzer.
func New() *Analyzer {
	return &Analyzer{
		ipFrequency:      make(map[string]uint64),
		processHistory:   make(map[uint32][]historyEntry),
		processFirstSeen: make(map[uint32]struct{}),
		startTime:        time.Now(),
	}
}

// Analyze scores ev, updates the analyzer's tracking state, and
// returns the final integer score in [0,100]. On an internal panic it
// recovers and returns 25 (the documented low-risk default), matching
// the prototype's broad try/except around analyze_connection.
func (a *Analyzer) Analyze(ev model.EnrichedEvent) (score int, err error) {
	defer func() {
		if r := recover(); r != nil {
			score = 25
			err = nil
		}
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalAnalyzed++

	a.ipFrequency[ev.DstIP]++
	a.appendHistory(ev.PID, ev)

	ruleSum := 0
	ruleSum += a.checkDestinationRarity(ev)
	ruleSum += a.checkConnectionFrequency(ev)
	ruleSum += checkSuspiciousPorts(ev)
	ruleSum += checkUnusualTiming(ev)
	ruleSum += a.checkFirstTimeProcess(ev)
	ruleSum += checkGeographicAnomalies(ev)
	ruleSum += checkProcessAnomalies(ev)
	ruleSum += a.checkConnectionPatterns(ev)

	anomaly := a.mlAnomalyScore(ev)
	final := ruleSum
	if weighted := int(anomaly * 50); weighted > final {
		final = weighted
	}
	if final > 100 {
		final = 100
	}
	if final < 0 {
		final = 0
	}

	if final >= 50 {
		a.suspiciousDetected++
	}

	return final, nil
}

func (a *Analyzer) appendHistory(pid uint32, ev model.EnrichedEvent) {
	hist := a.processHistory[pid]
	hist = append(hist, historyEntry{
		timestampUnix: float64(ev.TimestampNs) / 1e9,
		dstIP:         ev.DstIP,
		dstPort:       ev.DPort,
	})
	if len(hist) > recentHistoryCap {
		hist = hist[len(hist)-recentHistoryCap:]
	}
	a.processHistory[pid] = hist
}

func recentWithin(hist []historyEntry, now, windowSeconds float64) []historyEntry {
	out := make([]historyEntry, 0, len(hist))
	for _, h := range hist {
		if now-h.timestampUnix <= windowSeconds {
			out = append(out, h)
		}
	}
	return out
}

// checkDestinationRarity is rule 1.
func (a *Analyzer) checkDestinationRarity(ev model.EnrichedEvent) int {
	if ev.DstIP == "" {
		return 0
	}
	if model.WellKnownDNSResolvers[ev.DstIP] {
		return 0
	}
	if a.totalAnalyzed < 10 {
		return 0
	}

	freq := float64(a.ipFrequency[ev.DstIP]) / float64(a.totalAnalyzed)
	switch {
	case freq < 0.001:
		return 20
	case freq < 0.005:
		return 10
	case freq < 0.01:
		return 5
	default:
		return 0
	}
}

// checkConnectionFrequency is rule 2.
func (a *Analyzer) checkConnectionFrequency(ev model.EnrichedEvent) int {
	now := float64(ev.TimestampNs) / 1e9
	recent := recentWithin(a.processHistory[ev.PID], now, 60)

	score := 0
	rate := len(recent)
	switch {
	case rate > 100:
		score += 25
	case rate > 50:
		score += 15
	case rate > 20:
		score += 10
	case rate > 10:
		score += 5
	}

	if len(recent) >= 3 {
		counts := make(map[string]int)
		maxCount := 0
		for _, h := range recent {
			counts[h.dstIP]++
			if counts[h.dstIP] > maxCount {
				maxCount = counts[h.dstIP]
			}
		}
		if maxCount > 20 {
			score += 15
		}
	}
	return score
}

// checkSuspiciousPorts is rule 3.
func checkSuspiciousPorts(ev model.EnrichedEvent) int {
	score := 0
	if model.SuspiciousPorts[ev.DPort] {
		score += 30
	}
	if ev.DPort > 49152 && !model.SafePorts[ev.DPort] {
		score += 10
	}
	if ev.DPort < 1024 && !model.SafePorts[ev.DPort] {
		score += 15
	}
	return score
}

// checkUnusualTiming is rule 4.
func checkUnusualTiming(ev model.EnrichedEvent) int {
	score := 0
	now := time.Now()
	hour := now.Hour()
	if hour >= 2 && hour <= 6 {
		score += 10
	}
	weekday := now.Weekday()
	if (weekday == time.Saturday || weekday == time.Sunday) && !model.SafePorts[ev.DPort] {
		score += 5
	}
	return score
}

var systemProcessNames = map[string]bool{
	"systemd": true, "kernel": true, "init": true, "kthreadd": true,
}

// checkFirstTimeProcess is rule 5: single-fire per pid on the
// "not seen" -> "seen" transition.
func (a *Analyzer) checkFirstTimeProcess(ev model.EnrichedEvent) int {
	if _, seen := a.processFirstSeen[ev.PID]; seen {
		return 0
	}
	a.processFirstSeen[ev.PID] = struct{}{}

	name := strings.ToLower(ev.ProcessName)
	if systemProcessNames[name] {
		return 30
	}
	return 15
}

// checkGeographicAnomalies is rule 6.
func checkGeographicAnomalies(ev model.EnrichedEvent) int {
	if ev.IsPrivate {
		return 0
	}
	return 5
}

var suspiciousProcessNames = []string{"nc", "ncat", "netcat", "python", "perl", "bash", "sh"}
var suspiciousCmdlineArgs = []string{"-e", "--execute", "/bin/sh", "/bin/bash", "reverse", "shell"}

// checkProcessAnomalies is rule 7.
func checkProcessAnomalies(ev model.EnrichedEvent) int {
	score := 0
	name := strings.ToLower(ev.ProcessName)
	cmdline := strings.ToLower(ev.CmdlineFull)
	exe := strings.ToLower(ev.ExePath)

	for _, s := range suspiciousProcessNames {
		if strings.Contains(name, s) {
			score += 20
			break
		}
	}
	for _, s := range suspiciousCmdlineArgs {
		if strings.Contains(cmdline, s) {
			score += 25
			break
		}
	}
	if strings.Contains(exe, "/tmp/") || strings.Contains(exe, "/var/tmp/") {
		score += 30
	}
	if strings.HasPrefix(exe, "/.") {
		score += 20
	}
	return score
}

// checkConnectionPatterns is rule 8.
func (a *Analyzer) checkConnectionPatterns(ev model.EnrichedEvent) int {
	score := 0
	hist := a.processHistory[ev.PID]

	uniqueDest := make(map[string]struct{})
	for _, h := range hist {
		uniqueDest[h.dstIP] = struct{}{}
	}
	switch {
	case len(uniqueDest) > 50:
		score += 15
	case len(uniqueDest) > 20:
		score += 10
	case len(uniqueDest) > 10:
		score += 5
	}

	now := float64(ev.TimestampNs) / 1e9
	recent := recentWithin(hist, now, 30)
	if len(recent) >= 5 {
		ports := make([]int, 0, len(recent))
		for _, h := range recent {
			ports = append(ports, int(h.dstPort))
		}
		sort.Ints(ports)

		run := 1
		best := 1
		for i := 1; i < len(ports); i++ {
			if ports[i] == ports[i-1]+1 {
				run++
			} else {
				run = 1
			}
			if run > best {
				best = run
			}
		}
		if best >= 5 {
			score += 20
		}
	}
	return score
}
