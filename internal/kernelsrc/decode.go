// Package kernelsrc attaches to the kernel's TCP connection-establishment
// tap and decodes its fixed-layout ring buffer records into RawEvents.
// Attachment follows the teacher's cilium/ebpf ring reader idiom
// (internal/ringbuf/reader.go): remove the memlock limit, attach a
// kprobe, and fall back to an empty mock reader when that fails.
package kernelsrc

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/netviz/netviz-go/internal/model"
)

// recordSize is the byte length of one fixed-layout kernel record:
// u64 timestamp_ns, u32 pid, char comm[16], char cmdline[256],
// u32 saddr, u32 daddr, u16 sport, u16 dport, u8 protocol.
const recordSize = 8 + 4 + 16 + 256 + 4 + 4 + 2 + 2 + 1

const (
	offTimestamp = 0
	offPID       = 8
	offComm      = 12
	offCmdline   = 28
	offSAddr     = 284
	offDAddr     = 288
	offSPort     = 292
	offDPort     = 294
	offProtocol  = 296
)

// DecodeError reports a malformed raw record. It is never returned for
// pid == 0 or protocol != 6 — those are valid, just uninteresting to
// later stages.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("kernelsrc: decode error: %s", e.Reason)
}

// Decode converts one raw ring buffer record into a RawEvent. cpu is
// accepted for parity with the ring reader's per-CPU callback shape but
// is not otherwise used.
func Decode(cpu int, raw []byte) (model.RawEvent, error) {
	if len(raw) < recordSize {
		return model.RawEvent{}, &DecodeError{Reason: fmt.Sprintf("record too short: got %d want %d", len(raw), recordSize)}
	}

	ev := model.RawEvent{
		TimestampNs: binary.LittleEndian.Uint64(raw[offTimestamp : offTimestamp+8]),
		PID:         binary.LittleEndian.Uint32(raw[offPID : offPID+4]),
		Comm:        decodeCString(raw[offComm:offCmdline]),
		Cmdline:     decodeCString(raw[offCmdline:offSAddr]),
		SAddr:       binary.LittleEndian.Uint32(raw[offSAddr : offSAddr+4]),
		DAddr:       binary.LittleEndian.Uint32(raw[offDAddr : offDAddr+4]),
		SPort:       binary.LittleEndian.Uint16(raw[offSPort : offSPort+2]),
		DPort:       binary.LittleEndian.Uint16(raw[offDPort : offDPort+2]),
		Protocol:    raw[offProtocol],
	}

	return ev, nil
}

// decodeCString strips trailing NUL padding and replaces invalid UTF-8
// byte sequences with the Unicode replacement character.
func decodeCString(b []byte) string {
	trimmed := strings.TrimRight(string(b), "\x00")
	if utf8.ValidString(trimmed) {
		return trimmed
	}
	return strings.ToValidUTF8(trimmed, string(utf8.RuneError))
}
