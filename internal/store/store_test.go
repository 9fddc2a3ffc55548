package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netviz/netviz-go/internal/model"
)

func sampleEvent(ts int64, pid uint32, daddr uint32) model.EnrichedEvent {
	return model.EnrichedEvent{
		TimestampNs: ts,
		PID:         pid,
		DAddr:       daddr,
		DPort:       443,
		ProcessName: "curl",
		DstIP:       model.DottedQuad(daddr),
	}
}

func TestIngest_DedupsByConnectionID(t *testing.T) {
	s := New(100, 5, nil)

	ev := sampleEvent(1_000_000_000, 42, 0x01020304)
	s.Ingest(ev)
	s.Ingest(ev)

	stats := s.Statistics()
	assert.EqualValues(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveConnections)
}

func TestIngest_EvictsByCapacity(t *testing.T) {
	s := New(3, 5, nil)

	for i := 0; i < 5; i++ {
		s.Ingest(sampleEvent(int64(i+1)*1_000_000_000, uint32(i), uint32(i)))
	}

	recent := s.Recent(100)
	require.Len(t, recent, 3)
	// Newest-first: the last three ingested (pid 2,3,4) should remain.
	assert.Equal(t, uint32(4), recent[0].PID)
	assert.Equal(t, uint32(3), recent[1].PID)
	assert.Equal(t, uint32(2), recent[2].PID)
}

func TestProcessDetails_UnseenPIDReturnsErrNotFound(t *testing.T) {
	s := New(100, 5, nil)

	_, err := s.ProcessDetails(999)
	require.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestProcessDetails_AggregatesSurviveEviction(t *testing.T) {
	s := New(1, 5, nil)

	s.Ingest(sampleEvent(1_000_000_000, 7, 0x01010101))
	s.Ingest(sampleEvent(2_000_000_000, 7, 0x02020202))
	s.Ingest(sampleEvent(3_000_000_000, 99, 0x03030303))

	details, err := s.ProcessDetails(7)
	require.NoError(t, err)
	// pid 7's earliest events were evicted from the queue, but the
	// cumulative aggregate must still show both connections.
	assert.EqualValues(t, 2, details.ProcessInfo.ConnectionCount)
}

func TestRecent_RespectsLimit(t *testing.T) {
	s := New(100, 5, nil)
	for i := 0; i < 10; i++ {
		s.Ingest(sampleEvent(int64(i+1)*1_000_000_000, uint32(i), uint32(i)))
	}

	recent := s.Recent(3)
	assert.Len(t, recent, 3)
}
