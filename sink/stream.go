package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// Stream is the live sink: headerless interleaved PCM written to a named
// pipe or a regular file and flushed after every chunk.
type Stream struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	logger *slog.Logger
}

// OpenStream opens path for the live stream. A missing path is created as a
// named pipe, in which case opening blocks until a reader attaches or ctx
// ends. An existing regular file is truncated.
func OpenStream(ctx context.Context, path string) (*Stream, error) {
	logger := slog.With("component", "live-sink", "path", path)

	if _, err := EnsurePipe(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode().IsRegular() {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return newStream(path, f, logger), nil
	}

	f, err := openPipe(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.Info("Reader attached to named pipe")
	return newStream(path, f, logger), nil
}

// EnsurePipe creates a named pipe at path unless something already exists
// there. It reports whether a pipe was created.
func EnsurePipe(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := mkfifo(path); err != nil {
		return false, fmt.Errorf("create pipe %s: %w", path, err)
	}
	slog.Info("Created named pipe", slog.String("component", "live-sink"), slog.String("path", path))
	return true, nil
}

// CreateStream writes the live stream to a new regular file at path
func CreateStream(path string) (*Stream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return newStream(path, f, slog.With("component", "live-sink", "path", path)), nil
}

func newStream(path string, f *os.File, logger *slog.Logger) *Stream {
	return &Stream{path: path, file: f, w: bufio.NewWriter(f), logger: logger}
}

// openPipe opens a FIFO for writing. The open blocks until a reader shows up;
// on cancellation a throwaway reader is attached to release it.
func openPipe(ctx context.Context, path string) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("open pipe %s: %w", path, r.err)
		}
		return r.f, nil
	case <-ctx.Done():
		if rd, err := openNonblockingReader(path); err == nil {
			if r := <-ch; r.f != nil {
				r.f.Close()
			}
			rd.Close()
		}
		return nil, ctx.Err()
	}
}

// Write buffers p; call Flush to push it downstream.
func (s *Stream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Flush pushes buffered bytes to the reader
func (s *Stream) Flush() error {
	return s.w.Flush()
}

// Path returns the sink location
func (s *Stream) Path() string {
	return s.path
}

// Close flushes and closes the sink
func (s *Stream) Close() error {
	flushErr := s.w.Flush()
	if err := s.file.Close(); err != nil {
		return err
	}
	return flushErr
}
