// Package archive compresses finished window files with zstd.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/daszybak/polymarket_capture/internal/capture"
)

const Extension = ".zst"

var _ capture.WindowObserver = (*Archiver)(nil)

// Archiver replaces a closed window's file with <path>.zst.
type Archiver struct {
	keepOriginal bool
	log          *slog.Logger
}

type Option func(*Archiver)

// KeepOriginal leaves the uncompressed file in place next to the archive.
func KeepOriginal() Option {
	return func(a *Archiver) { a.keepOriginal = true }
}

func New(logger *slog.Logger, opts ...Option) *Archiver {
	a := &Archiver{log: logger.With("component", "archive")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WindowClosed compresses the window's file. Skipped windows and windows
// that never produced a file are ignored.
func (a *Archiver) WindowClosed(ctx context.Context, w capture.ClosedWindow) error {
	if w.Skipped || w.Path == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := a.Compress(w.Path)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Debug("nothing to archive", "slug", w.Window.Slug())
		return nil
	}
	if err != nil {
		return err
	}
	a.log.Info("archived window", "slug", w.Window.Slug(), "path", target)
	return nil
}

// Compress writes path+".zst" and, unless the original is kept, removes
// path. The archive is written to a temporary name and renamed once
// complete.
func (a *Archiver) Compress(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("couldn't open %s: %w", path, err)
	}
	defer src.Close()

	target := path + Extension
	tmp := target + ".tmp"
	if err := compressTo(tmp, src); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("couldn't rename %s: %w", tmp, err)
	}

	if !a.keepOriginal {
		if err := os.Remove(path); err != nil {
			return target, fmt.Errorf("couldn't remove %s: %w", path, err)
		}
	}
	return target, nil
}

func compressTo(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("couldn't create %s: %w", path, err)
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		dst.Close()
		return fmt.Errorf("couldn't create zstd encoder: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return fmt.Errorf("couldn't compress into %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("couldn't finish %s: %w", path, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("couldn't sync %s: %w", path, err)
	}
	return dst.Close()
}

// Open returns a reader over the decompressed contents of an archive.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", path, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("couldn't create zstd decoder: %w", err)
	}
	return &reader{dec: dec, f: f}, nil
}

type reader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (r *reader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
