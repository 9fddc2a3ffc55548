package kernelsrc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRecord(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, recordSize)

	binary.LittleEndian.PutUint64(buf[offTimestamp:], 1234567890123456789)
	binary.LittleEndian.PutUint32(buf[offPID:], 4242)
	copy(buf[offComm:offCmdline], []byte("curl\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	copy(buf[offCmdline:offSAddr], []byte("curl https://example.com"))
	binary.LittleEndian.PutUint32(buf[offSAddr:], 0x0A000001)
	binary.LittleEndian.PutUint32(buf[offDAddr:], 0xCB007112)
	binary.LittleEndian.PutUint16(buf[offSPort:], 54321)
	binary.LittleEndian.PutUint16(buf[offDPort:], 443)
	buf[offProtocol] = 6

	return buf
}

func TestDecode_ParsesFixedLayoutRecord(t *testing.T) {
	raw := buildRecord(t)

	ev, err := Decode(0, raw)
	require.NoError(t, err)

	assert.EqualValues(t, 1234567890123456789, ev.TimestampNs)
	assert.EqualValues(t, 4242, ev.PID)
	assert.Equal(t, "curl", ev.Comm)
	assert.Equal(t, "curl https://example.com", ev.Cmdline)
	assert.EqualValues(t, 0x0A000001, ev.SAddr)
	assert.EqualValues(t, 0xCB007112, ev.DAddr)
	assert.EqualValues(t, 54321, ev.SPort)
	assert.EqualValues(t, 443, ev.DPort)
	assert.EqualValues(t, 6, ev.Protocol)
}

func TestDecode_RejectsShortRecord(t *testing.T) {
	_, err := Decode(0, make([]byte, recordSize-1))
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
}
