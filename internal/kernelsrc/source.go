package kernelsrc

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/netviz/netviz-go/internal/model"
	"github.com/netviz/netviz-go/internal/telemetry"
)

const (
	maxAttachRetries = 3
	retrySpacing     = 2 * time.Second
	pollTimeout      = 100 * time.Millisecond
)

// ObjectPath is where a compiled kernel probe object (tracing
// tcp_connect, emitting the fixed-layout record Decode expects on a
// BPF_MAP_TYPE_RINGBUF map named "events") is expected to live. The
// probe program itself is an external collaborator, built and shipped
// separately from this module.
var ObjectPath = "bpf/netviz_kern.o"

// Source polls the kernel's connection-establishment ring and emits
// decoded RawEvents. The kernel-side probe program and its loader are
// external collaborators; Source only consumes the ring they produce.
// When the kernel source cannot be attached (missing privileges, no
// compiled probe object, unsupported kernel) Source runs in Mock Mode:
// Loaded() reports false and Events() never emits, but the rest of the
// pipeline starts normally and serves empty-data queries.
type Source struct {
	ring   *ringbuf.Reader
	coll   *ebpf.Collection
	kprobe link.Link
	loaded bool

	events  chan model.RawEvent
	errc    chan error
	metrics *telemetry.Metrics
}

// New attempts to attach to the kernel source, retrying up to
// maxAttachRetries times at retrySpacing. On final failure it returns a
// Source in Mock Mode rather than an error: probe-attach failure is not
// fatal to the rest of the pipeline. metrics may be nil.
func New(ctx context.Context, metrics *telemetry.Metrics) *Source {
	s := &Source{
		events:  make(chan model.RawEvent, 4096),
		errc:    make(chan error, 1),
		metrics: metrics,
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttachRetries; attempt++ {
		if err := s.attach(); err != nil {
			lastErr = err
			slog.Warn("kernelsrc: attach failed", "attempt", attempt, "of", maxAttachRetries, "error", err)
			if attempt < maxAttachRetries {
				select {
				case <-time.After(retrySpacing):
				case <-ctx.Done():
					return s
				}
			}
			continue
		}
		s.loaded = true
		slog.Info("kernelsrc: attached to kernel source")
		break
	}

	if !s.loaded {
		slog.Warn("kernelsrc: entering degraded mode, empty ingest", "last_error", lastErr)
	}
	return s
}

// attach removes the memlock limit and loads/attaches the compiled
// kernel probe object. Mirrors the teacher's ring reader bring-up
// (internal/ringbuf/reader.go): in environments with no compiled probe
// object or without CAP_BPF, this fails and the caller degrades.
func (s *Source) attach() error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return err
	}

	spec, err := ebpf.LoadCollectionSpec(ObjectPath)
	if err != nil {
		return err
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return err
	}

	prog, ok := coll.Programs["trace_tcp_connect"]
	if !ok {
		coll.Close()
		return errProgramNotFound
	}

	kp, err := link.Kprobe("tcp_connect", prog, nil)
	if err != nil {
		coll.Close()
		return err
	}

	m, ok := coll.Maps["events"]
	if !ok {
		kp.Close()
		coll.Close()
		return errMapNotFound
	}

	rd, err := ringbuf.NewReader(m)
	if err != nil {
		kp.Close()
		coll.Close()
		return err
	}

	s.coll = coll
	s.kprobe = kp
	s.ring = rd
	return nil
}

// Loaded reports whether the kernel source is attached (false in Mock
// Mode).
func (s *Source) Loaded() bool {
	return s.loaded
}

// Events returns the channel of decoded RawEvents. In Mock Mode the
// channel exists but is never written to.
func (s *Source) Events() <-chan model.RawEvent {
	return s.events
}

// Run starts the ingest poll loop: each read waits at most pollTimeout,
// and the next read starts straight away, with no pause between polls.
// It returns once ctx is cancelled. In Mock Mode it returns immediately.
func (s *Source) Run(ctx context.Context) {
	if !s.loaded {
		return
	}
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.ring.SetDeadline(time.Now().Add(pollTimeout))
		record, err := s.ring.Read()
		if err != nil {
			if err == ringbuf.ErrClosed {
				return
			}
			if os.IsTimeout(err) {
				continue
			}
			slog.Warn("kernelsrc: ring read error", "error", err)
			continue
		}

		ev, err := Decode(0, record.RawSample)
		if err != nil {
			slog.Warn("kernelsrc: decode error", "error", err)
			if s.metrics != nil {
				s.metrics.DecodeErrors.Inc()
			}
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		default:
			slog.Warn("kernelsrc: event channel full, dropping record")
		}
	}
}

// Close releases the ring reader, kprobe link, and loaded collection.
// Safe to call on a Mock Mode source.
func (s *Source) Close() {
	if s.ring != nil {
		s.ring.Close()
	}
	if s.kprobe != nil {
		s.kprobe.Close()
	}
	if s.coll != nil {
		s.coll.Close()
	}
}

var (
	errProgramNotFound = decodeSentinel("trace_tcp_connect program not found in collection")
	errMapNotFound     = decodeSentinel("events ring buffer map not found in collection")
)

type decodeSentinel string

func (e decodeSentinel) Error() string { return string(e) }
