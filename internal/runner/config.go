package runner

import (
	"io"
	"time"

	"quicinterop/internal/netem"
)

// Scripts are the hook scripts of a run. Cold scripts run before and after a
// cell; hot scripts are synchronized with the running endpoints through the
// barrier.
type Scripts struct {
	ServerPre     []string
	ServerPreHot  []string
	ServerPostHot []string
	ServerPost    []string
	ClientPre     []string
	ClientPreHot  []string
	ClientPostHot []string
	ClientPost    []string
	SnifferPre    []string
	SnifferPost   []string
}

// Hot reports whether any hot script is configured.
func (s Scripts) Hot() bool {
	return len(s.ServerPreHot)+len(s.ServerPostHot)+len(s.ClientPreHot)+len(s.ClientPostHot) > 0
}

// Timing holds the fixed waits of a cell.
type Timing struct {
	// ObserverWarmup lets capture processes start before anything is sent
	ObserverWarmup time.Duration
	// ObserverCooldown lets captures drain before they are stopped
	ObserverCooldown time.Duration
	// ServerStartDelay separates server and client launch
	ServerStartDelay time.Duration
	// BarrierGrace is how long barrier daemons may take after the client
	BarrierGrace time.Duration
}

// DefaultTiming returns the production waits.
func DefaultTiming() Timing {
	return Timing{
		ObserverWarmup:   2 * time.Second,
		ObserverCooldown: time.Second,
		ServerStartDelay: 2 * time.Second,
		BarrierGrace:     5 * time.Second,
	}
}

// Manual configures manual mode, where launch commands are printed for an
// operator instead of being run.
type Manual struct {
	Enabled   bool
	In        io.Reader
	Out       io.Writer
	Clipboard bool
}

// Config is the resolved configuration of the state machine.
type Config struct {
	// LogDir is the run directory cells are persisted into
	LogDir string
	// TempDir holds per-cell scratch directories, os.TempDir when empty
	TempDir   string
	SaveFiles bool
	IPv6      bool

	UseClientTimestamps     bool
	DisableServerAESOffload bool
	DisableClientAESOffload bool

	Rule    netem.Rule
	Scripts Scripts

	ServerParams  map[string]string
	ClientParams  map[string]string
	SnifferParams map[string]string

	// BarrierCommand launches the barrier daemon on a host
	BarrierCommand string
	BarrierTimeout time.Duration
	ClientSocket   string
	ServerSocket   string

	Timing Timing
	Manual Manual
}
