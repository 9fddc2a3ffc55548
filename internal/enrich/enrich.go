// Package enrich augments a decoded RawEvent with process metadata read
// directly from /proc, following the direct-procfs-parsing idiom the
// example pack uses in place of a psutil-equivalent third-party
// library (none of the retrieved repos import one).
package enrich

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/netviz/netviz-go/internal/model"
)

const procRoot = "/proc"

// Enricher produces EnrichedEvents from RawEvents. It holds no mutable
// state of its own; all I/O is a direct, non-blocking-on-average read
// of the host process table.
type Enricher struct{}

// New returns a ready-to-use Enricher.
func New() *Enricher {
	return &Enricher{}
}

// Enrich builds the EnrichedEvent for a RawEvent. It never returns an
// error: process lookup misses fall through to the deterministic
// fallback values set by applyProcessInfo, never blocking the ingest
// path.
func (e *Enricher) Enrich(raw model.RawEvent) model.EnrichedEvent {
	ev := model.EnrichedEvent{
		TimestampNs: int64(raw.TimestampNs),
		PID:         raw.PID,
		Comm:        raw.Comm,
		Cmdline:     raw.Cmdline,
		SAddr:       raw.SAddr,
		DAddr:       raw.DAddr,
		SPort:       raw.SPort,
		DPort:       raw.DPort,
		SrcIP:       model.DottedQuad(raw.SAddr),
		DstIP:       model.DottedQuad(raw.DAddr),
	}

	if raw.Protocol == 6 {
		ev.ProtocolStr = "TCP"
	} else {
		ev.ProtocolStr = fmt.Sprintf("Protocol-%d", raw.Protocol)
	}

	applyProcessInfo(&ev, raw)

	ev.CountryCode = "Unknown"
	ev.IsPrivate = model.IsPrivateIP(raw.DAddr)
	ev.IsSafePort = model.SafePorts[raw.DPort]

	return ev
}

// applyProcessInfo fills the three outcome classes named by the
// process enrichment contract: found, no such process, and
// access-denied/zombie.
func applyProcessInfo(ev *model.EnrichedEvent, raw model.RawEvent) {
	pidDir := filepath.Join(procRoot, strconv.Itoa(int(raw.PID)))

	st, err := os.Stat(pidDir)
	if os.IsNotExist(err) {
		ev.ProcessName = fmt.Sprintf("[terminated_pid:%d]", raw.PID)
		ev.CmdlineFull = raw.Cmdline
		ev.ExePath = "Unknown"
		ev.ParentPID = 0
		ev.Username = "Unknown"
		ev.CreateTimeUnix = 0
		ev.Status = "terminated"
		return
	}

	name, ppid, state, startTicks, readErr := readStat(pidDir)
	if err != nil || readErr != nil || st == nil || state == "Z" {
		applyRestricted(ev, raw)
		return
	}

	cmdline, cmdErr := readCmdline(pidDir)
	exePath, exeErr := os.Readlink(filepath.Join(pidDir, "exe"))
	username, userErr := lookupOwner(st)

	if cmdErr != nil && exeErr != nil && userErr != nil {
		applyRestricted(ev, raw)
		return
	}

	if cmdline == "" {
		cmdline = raw.Cmdline
	}
	if exeErr != nil || exePath == "" {
		exePath = "Unknown"
	}
	if userErr != nil || username == "" {
		username = "Unknown"
	}

	ev.ProcessName = name
	ev.CmdlineFull = cmdline
	ev.ExePath = exePath
	ev.ParentPID = ppid
	ev.Username = username
	ev.CreateTimeUnix = bootRelativeUnix(startTicks)
	ev.Status = procStateName(state)
}

func applyRestricted(ev *model.EnrichedEvent, raw model.RawEvent) {
	name := raw.Comm
	if name == "" {
		name = fmt.Sprintf("[pid:%d]", raw.PID)
	}
	ev.ProcessName = name
	ev.CmdlineFull = raw.Cmdline
	ev.ExePath = "Unknown"
	ev.ParentPID = 0
	ev.Username = "Restricted"
	ev.CreateTimeUnix = 0
	ev.Status = "restricted"
}

// readStat parses /proc/<pid>/stat: "pid (comm) state ppid ... starttime".
// comm may itself contain spaces or parens, so split on the last ')'.
func readStat(pidDir string) (comm string, ppid uint32, state string, startTicks uint64, err error) {
	raw, err := os.ReadFile(filepath.Join(pidDir, "stat"))
	if err != nil {
		return "", 0, "", 0, err
	}
	content := string(raw)

	open := strings.IndexByte(content, '(')
	close := strings.LastIndexByte(content, ')')
	if open < 0 || close < 0 || close < open {
		return "", 0, "", 0, fmt.Errorf("enrich: malformed stat for %s", pidDir)
	}
	comm = content[open+1 : close]

	fields := strings.Fields(content[close+1:])
	// fields[0] = state, [1] = ppid, ... [19] = starttime (field 22 overall, 0-indexed from state)
	if len(fields) < 20 {
		return comm, 0, "", 0, fmt.Errorf("enrich: stat too short for %s", pidDir)
	}
	state = fields[0]
	if v, perr := strconv.ParseUint(fields[1], 10, 32); perr == nil {
		ppid = uint32(v)
	}
	if v, perr := strconv.ParseUint(fields[19], 10, 64); perr == nil {
		startTicks = v
	}
	return comm, ppid, state, startTicks, nil
}

func readCmdline(pidDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(pidDir, "cmdline"))
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	return strings.Join(parts, " "), nil
}

func lookupOwner(st os.FileInfo) (string, error) {
	uid := fileOwnerUID(st)
	if uid < 0 {
		return "", fmt.Errorf("enrich: no uid available")
	}
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// procStateName expands /proc/<pid>/stat's single-letter state code.
func procStateName(code string) string {
	switch code {
	case "R":
		return "running"
	case "S":
		return "sleeping"
	case "D":
		return "disk-sleep"
	case "Z":
		return "zombie"
	case "T":
		return "stopped"
	case "t":
		return "tracing-stop"
	case "I":
		return "idle"
	default:
		return "unknown"
	}
}

// bootRelativeUnix converts a /proc/<pid>/stat starttime (clock ticks
// since boot) into a Unix timestamp. clockTicksPerSec is the standard
// Linux USER_HZ value; boot time is read from /proc/stat's "btime".
func bootRelativeUnix(startTicks uint64) float64 {
	boot := bootTimeUnix()
	if boot == 0 {
		return 0
	}
	return float64(boot) + float64(startTicks)/float64(clockTicksPerSec)
}

const clockTicksPerSec = 100

func bootTimeUnix() int64 {
	raw, err := os.ReadFile(filepath.Join(procRoot, "stat"))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "btime ") {
			fields := strings.Fields(line)
			if len(fields) == 2 {
				if v, perr := strconv.ParseInt(fields[1], 10, 64); perr == nil {
					return v
				}
			}
		}
	}
	return 0
}
