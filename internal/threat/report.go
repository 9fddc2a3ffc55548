package threat

import "time"

// ProcessThreat is the per-process risk report returned by
// ProcessThreat(pid).
type ProcessThreat struct {
	Found                    bool
	RiskLevel                string
	RiskScore                int
	RiskFactors              []string
	TotalConnections         int
	UniqueDestinations       int
	UniquePorts              int
	ConnectionRatePerMinute  float64
}

// ProcessThreat computes the risk report for a pid from the
// analyzer's own recent-connection history (not the store's).
func (a *Analyzer) ProcessThreat(pid uint32) ProcessThreat {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.processHistory[pid]
	if len(hist) == 0 {
		return ProcessThreat{Found: false}
	}

	uniqueDest := make(map[string]struct{})
	uniquePorts := make(map[uint16]struct{})
	for _, h := range hist {
		uniqueDest[h.dstIP] = struct{}{}
		uniquePorts[h.dstPort] = struct{}{}
	}

	elapsedMinutes := (nowUnix() - hist[0].timestampUnix) / 60
	if elapsedMinutes < 1 {
		elapsedMinutes = 1
	}
	rate := float64(len(hist)) / elapsedMinutes

	var factors []string
	if rate > 50 {
		factors = append(factors, "High connection frequency")
	}
	if len(uniqueDest) > 20 {
		factors = append(factors, "Many unique destinations")
	}
	if len(uniquePorts) > 10 {
		factors = append(factors, "Port scanning pattern")
	}

	riskScore := 0.5*rate + 2*float64(len(uniqueDest)) + 3*float64(len(uniquePorts))
	if riskScore > 100 {
		riskScore = 100
	}

	riskLevel := "Low"
	switch {
	case riskScore >= 75:
		riskLevel = "Critical"
	case riskScore >= 50:
		riskLevel = "High"
	case riskScore >= 25:
		riskLevel = "Medium"
	}

	return ProcessThreat{
		Found:                   true,
		RiskLevel:               riskLevel,
		RiskScore:               int(riskScore),
		RiskFactors:             factors,
		TotalConnections:        len(hist),
		UniqueDestinations:      len(uniqueDest),
		UniquePorts:             len(uniquePorts),
		ConnectionRatePerMinute: rate,
	}
}

// Statistics is the analyzer's self-reported counters, supplemental to
// the store's statistics (see SPEC_FULL §4 item 2).
type Statistics struct {
	TotalAnalyzed        uint64  `json:"total_analyzed"`
	SuspiciousDetected    uint64  `json:"suspicious_detected"`
	SuspiciousPercentage  float64 `json:"suspicious_percentage"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
	UniqueIPsTracked      int     `json:"unique_ips_tracked"`
	ProcessesTracked      int     `json:"processes_tracked"`
	MLTrainingSamples     int     `json:"ml_training_samples"`
}

// Statistics returns the analyzer's self-statistics snapshot.
func (a *Analyzer) Statistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	pct := 0.0
	if a.totalAnalyzed > 0 {
		pct = float64(a.suspiciousDetected) / float64(a.totalAnalyzed) * 100
	}

	return Statistics{
		TotalAnalyzed:        a.totalAnalyzed,
		SuspiciousDetected:   a.suspiciousDetected,
		SuspiciousPercentage: pct,
		UptimeSeconds:        nowUnix() - unixTime(a.startTime),
		UniqueIPsTracked:     len(a.ipFrequency),
		ProcessesTracked:     len(a.processHistory),
		MLTrainingSamples:    len(a.samples),
	}
}

func nowUnix() float64 {
	return unixTime(time.Now())
}

func unixTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
