package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures a rotating log file.
type FileConfig struct {
	Path     string `mapstructure:"path"`
	MaxSize  int64  `mapstructure:"max_size"`  // bytes before rotation, default 10MB
	MaxFiles int    `mapstructure:"max_files"` // rotated files kept, default 5
}

// FileWriter is an io.Writer appending to a file that is rotated to
// path.1 .. path.N when it grows past MaxSize.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	maxSize  int64
	maxFiles int
	written  int64
}

// NewFileWriter opens (or creates) cfg.Path for appending.
func NewFileWriter(cfg FileConfig) (*FileWriter, error) {
	if cfg.Path == "" {
		return nil, errors.New("log file path is empty")
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024 // 10MB
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	w := &FileWriter{file: f, path: cfg.Path, maxSize: maxSize, maxFiles: maxFiles}
	if info, err := f.Stat(); err == nil {
		w.written = info.Size()
	}
	return w, nil
}

// Write appends p, rotating afterwards when the size limit is reached.
// slog handlers issue one Write per record, so records never straddle two
// files.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, errors.New("log file closed")
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, err
	}
	if w.written >= w.maxSize {
		w.rotate()
	}
	return n, nil
}

// Close closes the file. It is safe to call more than once.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *FileWriter) rotate() {
	w.file.Close()
	w.file = nil

	for i := w.maxFiles - 1; i > 0; i-- {
		os.Rename(fmt.Sprintf("%s.%d", w.path, i), fmt.Sprintf("%s.%d", w.path, i+1))
	}
	os.Rename(w.path, w.path+".1")
	os.Remove(fmt.Sprintf("%s.%d", w.path, w.maxFiles+1))

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		// The default logger may be writing here; report on stderr.
		fmt.Fprintf(os.Stderr, "failed to open rotated log file %s: %v\n", w.path, err)
		return
	}
	w.file = f
	w.written = 0
}
