// Package maintenance runs the periodic vault housekeeping the importer
// itself never does: finalizing runs orphaned in `running` by an
// interrupted process, and reporting artifact rows whose files are gone.
package maintenance

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/chatvault/internal/audit"
	"github.com/basket/chatvault/internal/vault"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the sweeper.
type Config struct {
	Store  *vault.Store
	Logger *slog.Logger
	// Schedule is a 5-field cron expression. Empty disables the sweeper.
	Schedule string
	// OrphanMaxAge is how long a run may sit in `running` before it is
	// finalized as interrupted.
	OrphanMaxAge time.Duration
}

// Sweeper fires the maintenance pass on a cron schedule.
type Sweeper struct {
	store        *vault.Store
	logger       *slog.Logger
	schedule     cronlib.Schedule
	orphanMaxAge time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. Returns nil with no error when the
// schedule is empty (maintenance disabled).
func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.Schedule == "" {
		return nil, nil
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	orphanMaxAge := cfg.OrphanMaxAge
	if orphanMaxAge == 0 {
		orphanMaxAge = 6 * time.Hour
	}
	return &Sweeper{
		store:        cfg.Store,
		logger:       logger,
		schedule:     sched,
		orphanMaxAge: orphanMaxAge,
	}, nil
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance sweeper started", "orphan_max_age", s.orphanMaxAge)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		next := s.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass. Exported so tests can fire it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	swept, err := s.store.SweepOrphanedRuns(ctx, s.orphanMaxAge)
	if err != nil {
		s.logger.Error("sweep orphaned runs", "error", err)
	} else if swept > 0 {
		s.logger.Info("orphaned runs finalized", "count", swept)
		audit.Record("maintenance", "orphaned_runs_finalized", "", 0, "-", "")
	}

	missing := s.missingArtifactFiles(ctx)
	if missing > 0 {
		// Report only. The stale rows are harmless: a re-import finds the
		// row via SHA dedup and re-writes the file.
		s.logger.Warn("artifact rows with missing files", "count", missing)
	}
}

func (s *Sweeper) missingArtifactFiles(ctx context.Context) int {
	rows, err := s.store.DB().QueryContext(ctx, `SELECT stored_path FROM raw_artifacts;`)
	if err != nil {
		s.logger.Error("list artifact paths", "error", err)
		return 0
	}
	defer rows.Close()

	missing := 0
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return missing
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			missing++
		}
	}
	return missing
}
