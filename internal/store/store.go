// Package store keeps a catalog of captured windows in PostgreSQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daszybak/polymarket_capture/internal/capture"
)

var _ capture.WindowObserver = (*Store)(nil)

// Store wraps the Queries and owns the connection pool.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

// New creates a new Store with the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: newQueries(pool),
		pool:    pool,
	}
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the catalog table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.CreateCaptureWindows(ctx); err != nil {
		return fmt.Errorf("couldn't create capture_windows: %w", err)
	}
	return nil
}

// WindowClosed records the summary of a closed window.
func (s *Store) WindowClosed(ctx context.Context, w capture.ClosedWindow) error {
	if err := s.UpsertCaptureWindow(ctx, closedWindowParams(w)); err != nil {
		return fmt.Errorf("couldn't upsert window %s: %w", w.Window.Slug(), err)
	}
	return nil
}

func closedWindowParams(w capture.ClosedWindow) UpsertCaptureWindowParams {
	params := UpsertCaptureWindowParams{
		Slug:      w.Window.Slug(),
		Asset:     w.Asset,
		StartTime: pgtype.Timestamptz{Time: w.Window.StartTime(), Valid: true},
		Tokens:    []string{},
		Records:   int32(w.Records),
		Path:      w.Path,
		Skipped:   w.Skipped,
	}
	if !w.Skipped {
		params.Tokens = w.Tokens.Slice()
	}
	if !w.ClosedAt.IsZero() {
		params.ClosedAt = pgtype.Timestamptz{Time: w.ClosedAt, Valid: true}
	}
	return params
}
