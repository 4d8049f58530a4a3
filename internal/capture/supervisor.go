package capture

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a single asset's capture task.
type Runner interface {
	Asset() string
	Run(ctx context.Context, windows int) error
}

var _ Runner = (*Daemon)(nil)

// Supervisor runs one task per asset. Tasks share nothing; a failing task
// never cancels the others.
type Supervisor struct {
	runners []Runner
	log     *slog.Logger
}

func NewSupervisor(logger *slog.Logger, runners ...Runner) *Supervisor {
	return &Supervisor{
		runners: runners,
		log:     logger.With("component", "supervisor"),
	}
}

// Run starts every task and waits for all of them. It returns the first
// task error, after every task has finished.
func (s *Supervisor) Run(ctx context.Context, windows int) error {
	assets := make([]string, 0, len(s.runners))
	for _, r := range s.runners {
		assets = append(assets, r.Asset())
	}
	s.log.Info("set to monitor", "assets", assets, "windows", windows)

	// No WithContext: one asset failing must not cancel the others.
	var g errgroup.Group
	for _, r := range s.runners {
		g.Go(func() error {
			if err := r.Run(ctx, windows); err != nil {
				s.log.Error("capture failed", "asset", r.Asset(), "error", err)
				return fmt.Errorf("asset %s: %w", r.Asset(), err)
			}
			s.log.Info("capture finished", "asset", r.Asset())
			return nil
		})
	}
	return g.Wait()
}
