package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global probe counters
// ──────────────────────────────────────────────────────────────────────────────

// Probes is the process-wide health probe counter.
var Probes = &probeStats{}

type probeStats struct {
	ReachOK   atomic.Int64 // reachability probes that saw the 0xFF reply
	ReachFail atomic.Int64 // reachability probes that timed out or misbehaved
	AliveOK   atomic.Int64 // telemetry reads that looked healthy
	AliveFail atomic.Int64 // telemetry reads that did not
	Phases    atomic.Int64 // session phase changes since process start
}

func (s *probeStats) Reach(ok bool) {
	if ok {
		s.ReachOK.Add(1)
	} else {
		s.ReachFail.Add(1)
	}
}

func (s *probeStats) Alive(ok bool) {
	if ok {
		s.AliveOK.Add(1)
	} else {
		s.AliveFail.Add(1)
	}
}

func (s *probeStats) PhaseChange() { s.Phases.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartProbeReporter launches a goroutine that logs probe health every
// 10 seconds while probes are actually firing. It stops when ctx is
// cancelled.
func StartProbeReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prev [5]int64
		for {
			select {
			case <-ticker.C:
				cur := [5]int64{
					Probes.ReachOK.Load(),
					Probes.ReachFail.Load(),
					Probes.AliveOK.Load(),
					Probes.AliveFail.Load(),
					Probes.Phases.Load(),
				}

				var moved bool
				for i := range cur {
					if cur[i] != prev[i] {
						moved = true
						break
					}
				}
				if moved {
					pterm.DefaultLogger.Info(formatProbes(
						cur[0]-prev[0], cur[1]-prev[1],
						cur[2]-prev[2], cur[3]-prev[3],
					))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatProbes renders the last interval's probe outcomes, for example:
// "Reach: 49/50 | Alive: 10/10".
func formatProbes(reachOK, reachFail, aliveOK, aliveFail int64) string {
	return fmt.Sprintf("Reach: %d/%d | Alive: %d/%d",
		reachOK, reachOK+reachFail,
		aliveOK, aliveOK+aliveFail,
	)
}
