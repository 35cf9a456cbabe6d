package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultSweepCron runs the history sweep every ten minutes.
const DefaultSweepCron = "*/10 * * * *"

// Sweeper prunes idle pending-history logs on a cron schedule and logs
// the processor's queue statistics.
type Sweeper struct {
	expr    string
	idleTTL time.Duration
	proc    *Processor
	now     func() time.Time
}

// NewSweeper validates expr (empty means DefaultSweepCron).
func NewSweeper(expr string, idleTTL time.Duration, proc *Processor) (*Sweeper, error) {
	if expr == "" {
		expr = DefaultSweepCron
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid history sweep cron %q", expr)
	}
	return &Sweeper{expr: expr, idleTTL: idleTTL, proc: proc, now: time.Now}, nil
}

// Run sweeps at every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.Info("gateway: history sweeper started", "cron", s.expr, "idle_ttl", s.idleTTL)
	for {
		next, err := gronx.NextTickAfter(s.expr, s.now(), false)
		if err != nil {
			return fmt.Errorf("compute next sweep: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.Sweep()
		}
	}
}

// Sweep prunes once and returns the number of conversations dropped.
func (s *Sweeper) Sweep() int {
	pruned := s.proc.History().PruneIdle(s.idleTTL)
	st := s.proc.Stats()
	slog.Info("gateway: sweep",
		"history_pruned", pruned,
		"history_keys", st.HistoryKeys,
		"active_lanes", st.ActiveLanes,
		"queued_turns", st.QueuedTurns,
		"pending_debounce", st.PendingDebounce,
		"dedupe_keys", st.DedupeKeys,
		"turns_completed", st.Completed,
		"turns_failed", st.Failed,
	)
	return pruned
}
