package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// ErrClosed is returned by Export after Close.
var ErrClosed = errors.New("trace: exporter closed")

const (
	defaultMaxSizeBytes    = 10 * 1024 * 1024
	defaultMaxRotatedFiles = 5
)

// FileExporter appends records to a JSON Lines file and rotates it by size:
// path.1 is the newest rotated file, path.N the oldest kept.
type FileExporter struct {
	mu sync.Mutex

	path         string
	maxSize      int64
	maxRotations int

	file   *os.File
	size   int64
	closed bool
}

// FileExporterOption configures a FileExporter.
type FileExporterOption func(*FileExporter)

// WithMaxSize sets the file size that triggers rotation (default 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(fe *FileExporter) {
		if bytes > 0 {
			fe.maxSize = bytes
		}
	}
}

// WithMaxRotatedFiles sets how many rotated files are kept (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(fe *FileExporter) {
		if count > 0 {
			fe.maxRotations = count
		}
	}
}

// NewFileExporter opens path for appending, creating parent directories.
func NewFileExporter(path string, opts ...FileExporterOption) (*FileExporter, error) {
	fe := &FileExporter{
		path:         path,
		maxSize:      defaultMaxSizeBytes,
		maxRotations: defaultMaxRotatedFiles,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat trace file: %w", err)
	}
	fe.file = file
	fe.size = info.Size()
	return nil
}

// Export writes record as one JSON line. The file is rotated once it has
// reached the size limit, so a single record is never split across files.
func (fe *FileExporter) Export(ctx context.Context, record *Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	line = append(line, '\n')

	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return ErrClosed
	}

	n, err := fe.file.Write(line)
	fe.size += int64(n)
	if err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}

	if fe.size >= fe.maxSize {
		if err := fe.rotate(); err != nil {
			return fmt.Errorf("rotate trace file: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the trace file. It is safe to call twice.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	syncErr := fe.file.Sync()
	closeErr := fe.file.Close()
	if syncErr != nil {
		return fmt.Errorf("sync trace file: %w", syncErr)
	}
	return closeErr
}

// rotate shifts path.i to path.i+1, dropping the oldest, moves the live file
// to path.1 and reopens path. fe.mu must be held.
func (fe *FileExporter) rotate() error {
	if err := fe.file.Close(); err != nil {
		return err
	}

	if err := os.Remove(fe.rotated(fe.maxRotations)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for i := fe.maxRotations - 1; i >= 1; i-- {
		if err := os.Rename(fe.rotated(i), fe.rotated(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(fe.path, fe.rotated(1)); err != nil {
		return err
	}

	return fe.open()
}

func (fe *FileExporter) rotated(i int) string {
	return fe.path + "." + strconv.Itoa(i)
}
