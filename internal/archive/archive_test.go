package archive

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daszybak/polymarket_capture/internal/capture"
	"github.com/daszybak/polymarket_capture/internal/window"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWindowFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "btc-updown-15m-1800.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readArchive(t *testing.T, path string) string {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestWindowClosedCompressesAndRemoves(t *testing.T) {
	dir := t.TempDir()
	content := "{\"a\":1}\n{\"a\":2}\n"
	path := writeWindowFile(t, dir, content)

	a := New(discardLogger())
	err := a.WindowClosed(context.Background(), capture.ClosedWindow{
		Window:  window.Window{Asset: "btc", Start: 1800},
		Path:    path,
		Records: 2,
	})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(path + Extension + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, content, readArchive(t, path+Extension))
}

func TestKeepOriginal(t *testing.T) {
	dir := t.TempDir()
	path := writeWindowFile(t, dir, "{\"a\":1}\n")

	target, err := New(discardLogger(), KeepOriginal()).Compress(path)
	require.NoError(t, err)
	require.Equal(t, path+Extension, target)

	_, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, "{\"a\":1}\n", readArchive(t, target))
}

func TestWindowClosedIgnoresMissingAndSkipped(t *testing.T) {
	dir := t.TempDir()
	a := New(discardLogger())

	require.NoError(t, a.WindowClosed(context.Background(), capture.ClosedWindow{
		Window: window.Window{Asset: "btc", Start: 1800},
		Path:   filepath.Join(dir, "missing.jsonl"),
	}))
	require.NoError(t, a.WindowClosed(context.Background(), capture.ClosedWindow{
		Window:  window.Window{Asset: "btc", Start: 1800},
		Path:    writeWindowFile(t, dir, "{}\n"),
		Skipped: true,
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "btc-updown-15m-1800.jsonl", entries[0].Name())
}
