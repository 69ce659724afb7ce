package observer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/go/rtx"

	"quicinterop/pkg/logging"
)

// sysClassNet is where Linux exposes interface counters.
var sysClassNet = "/sys/class/net"

// Sample is one reading of an interface's byte counters.
type Sample struct {
	Time    time.Time
	RxBytes uint64
	TxBytes uint64
}

// ReadCounters reads the byte counters of iface.
func ReadCounters(iface string) (Sample, error) {
	read := func(name string) (uint64, error) {
		data, err := os.ReadFile(filepath.Join(sysClassNet, iface, "statistics", name))
		if err != nil {
			return 0, err
		}
		return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	}
	rx, err := read("rx_bytes")
	if err != nil {
		return Sample{}, err
	}
	tx, err := read("tx_bytes")
	if err != nil {
		return Sample{}, err
	}
	return Sample{Time: time.Now(), RxBytes: rx, TxBytes: tx}, nil
}

// Sampler polls interface counters at memoryless intervals and writes
// ifstat style lines: unix time, receive kbit/s, transmit kbit/s.
type Sampler struct {
	iface string
	path  string
	cfg   memoryless.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSampler creates a sampler writing to path.
func NewSampler(iface, path string) *Sampler {
	return &Sampler{
		iface: iface,
		path:  path,
		cfg: memoryless.Config{
			Min:      500 * time.Millisecond,
			Expected: time.Second,
			Max:      2 * time.Second,
		},
	}
}

func (s *Sampler) Name() string { return "ifstat" }

// Start begins polling. A missing interface is reported but not fatal.
func (s *Sampler) Start(ctx context.Context) error {
	first, err := ReadCounters(s.iface)
	if err != nil {
		logging.Warn("Observer", "Interface statistics unavailable for %s: %v", s.iface, err)
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.path, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	ticker, err := memoryless.NewTicker(ctx, s.cfg)
	rtx.PanicOnError(err, "invalid sampler interval configuration")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer f.Close()
		w := bufio.NewWriter(f)
		defer w.Flush()

		fmt.Fprintf(w, "%-12s %12s %12s\n", "time", "rx_kbps", "tx_kbps")
		prev := first
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				cur, err := ReadCounters(s.iface)
				if err != nil {
					logging.Debug("Observer", "Reading counters of %s: %v", s.iface, err)
					continue
				}
				fmt.Fprintln(w, formatRate(prev, cur))
				prev = cur
			}
		}
	}()
	return nil
}

// Stop ends polling and flushes the file.
func (s *Sampler) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

func formatRate(prev, cur Sample) string {
	secs := cur.Time.Sub(prev.Time).Seconds()
	if secs <= 0 {
		secs = 1
	}
	rx := float64(delta(prev.RxBytes, cur.RxBytes)) * 8 / 1000 / secs
	tx := float64(delta(prev.TxBytes, cur.TxBytes)) * 8 / 1000 / secs
	return fmt.Sprintf("%-12d %12.2f %12.2f", cur.Time.Unix(), rx, tx)
}

// delta treats a counter reset as no traffic.
func delta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
