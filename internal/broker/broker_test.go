package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netviz/netviz-go/internal/model"
)

func connEvent(name, dstIP string, score uint8, suspicious bool) model.EnrichedEvent {
	return model.EnrichedEvent{
		ProcessName:  name,
		DstIP:        dstIP,
		ThreatScore:  score,
		IsSuspicious: suspicious,
	}
}

func TestApplyFilters_NoFiltersReturnsAll(t *testing.T) {
	events := []model.EnrichedEvent{
		connEvent("curl", "203.0.113.1", 10, false),
		connEvent("nc", "203.0.113.2", 80, true),
	}

	out := applyFilters(events, connectionFilters{})
	assert.Len(t, out, 2)
}

func TestApplyFilters_SuspiciousOnly(t *testing.T) {
	events := []model.EnrichedEvent{
		connEvent("curl", "203.0.113.1", 10, false),
		connEvent("nc", "203.0.113.2", 80, true),
	}

	out := applyFilters(events, connectionFilters{SuspiciousOnly: true})
	assert.Len(t, out, 1)
	assert.Equal(t, "nc", out[0].ProcessName)
}

func TestApplyFilters_ProcessNameCaseInsensitiveSubstring(t *testing.T) {
	events := []model.EnrichedEvent{
		connEvent("CURL", "203.0.113.1", 10, false),
		connEvent("netcat", "203.0.113.2", 80, true),
	}

	out := applyFilters(events, connectionFilters{ProcessName: "cur"})
	assert.Len(t, out, 1)
	assert.Equal(t, "CURL", out[0].ProcessName)
}

func TestApplyFilters_MinThreatScoreAndDestinationIPCombineWithAND(t *testing.T) {
	events := []model.EnrichedEvent{
		connEvent("nc", "203.0.113.2", 80, true),
		connEvent("nc", "198.51.100.9", 90, true),
		connEvent("nc", "198.51.100.10", 50, true),
		connEvent("nc", "203.0.113.3", 95, true),
	}

	out := applyFilters(events, connectionFilters{MinThreatScore: 85, DestinationIP: "198.51"})
	assert.Len(t, out, 1)
	assert.Equal(t, "198.51.100.9", out[0].DstIP)
}
