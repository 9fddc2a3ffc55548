package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netviz/netviz-go/internal/model"
)

func TestEnrich_TerminatedProcessFallsBackGracefully(t *testing.T) {
	e := New()

	raw := model.RawEvent{
		TimestampNs: 1_700_000_000_000_000_000,
		PID:         999999999, // practically guaranteed not to exist
		Comm:        "ghost",
		Cmdline:     "ghost --flag",
		SAddr:       0x0A000001,
		DAddr:       0xC0A80101,
		SPort:       12345,
		DPort:       443,
		Protocol:    6,
	}

	ev := e.Enrich(raw)

	assert.Equal(t, "TCP", ev.ProtocolStr)
	assert.Equal(t, "10.0.0.1", ev.SrcIP)
	assert.Equal(t, "192.168.1.1", ev.DstIP)
	assert.True(t, ev.IsPrivate)
	assert.True(t, ev.IsSafePort)
	assert.Equal(t, "terminated", ev.Status)
	assert.Equal(t, "ghost --flag", ev.CmdlineFull)
	assert.Contains(t, ev.ProcessName, "999999999")
}

func TestEnrich_NonTCPProtocolLabel(t *testing.T) {
	e := New()

	raw := model.RawEvent{PID: 999999998, Protocol: 17, DAddr: 0xCB007112, DPort: 53}
	ev := e.Enrich(raw)

	assert.Equal(t, "Protocol-17", ev.ProtocolStr)
	assert.False(t, ev.IsPrivate)
}
