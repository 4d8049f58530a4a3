package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createCaptureWindows = `
CREATE TABLE IF NOT EXISTS capture_windows (
    slug       TEXT PRIMARY KEY,
    asset      TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    tokens     TEXT[] NOT NULL,
    records    INTEGER NOT NULL,
    path       TEXT NOT NULL,
    skipped    BOOLEAN NOT NULL,
    closed_at  TIMESTAMPTZ
)`

func (q *Queries) CreateCaptureWindows(ctx context.Context) error {
	_, err := q.db.Exec(ctx, createCaptureWindows)
	return err
}

const upsertCaptureWindow = `
INSERT INTO capture_windows (slug, asset, start_time, tokens, records, path, skipped, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (slug) DO UPDATE SET
    tokens    = EXCLUDED.tokens,
    records   = capture_windows.records + EXCLUDED.records,
    path      = EXCLUDED.path,
    skipped   = EXCLUDED.skipped,
    closed_at = EXCLUDED.closed_at`

type UpsertCaptureWindowParams struct {
	Slug      string
	Asset     string
	StartTime pgtype.Timestamptz
	Tokens    []string
	Records   int32
	Path      string
	Skipped   bool
	ClosedAt  pgtype.Timestamptz
}

func (q *Queries) UpsertCaptureWindow(ctx context.Context, arg UpsertCaptureWindowParams) error {
	_, err := q.db.Exec(ctx, upsertCaptureWindow,
		arg.Slug,
		arg.Asset,
		arg.StartTime,
		arg.Tokens,
		arg.Records,
		arg.Path,
		arg.Skipped,
		arg.ClosedAt,
	)
	return err
}
