package logging

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileWriter is a buffered, size-rotated log file writer. Writes are
// thread-safe; the buffer is flushed every five seconds and on Close.
type FileWriter struct {
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	buffer     *bufio.Writer
	mu         sync.Mutex
	flushTimer *time.Timer
	closed     bool
}

// NewFileWriter opens (or creates) the log file in append mode. The caller
// should fall back to console-only logging if this fails.
func NewFileWriter(path string, maxSizeMB, maxBackups int) (*FileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	fw := &FileWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		file:       file,
		buffer:     bufio.NewWriterSize(file, 64*1024),
	}

	fw.flushTimer = time.AfterFunc(5*time.Second, func() {
		fw.mu.Lock()
		defer fw.mu.Unlock()
		if !fw.closed {
			fw.flushLocked()
			fw.flushTimer.Reset(5 * time.Second)
		}
	})

	return fw, nil
}

// Write appends data to the buffer. Implements io.Writer.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return 0, fmt.Errorf("file writer is closed")
	}
	return fw.buffer.Write(p)
}

// Flush writes the buffer to disk and rotates the file if it exceeds the
// size threshold.
func (fw *FileWriter) Flush() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return fmt.Errorf("file writer is closed")
	}
	return fw.flushLocked()
}

func (fw *FileWriter) flushLocked() error {
	if err := fw.buffer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] failed to flush log buffer: %v\n", err)
		return err
	}

	info, err := fw.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < fw.maxSize {
		return nil
	}

	if err := fw.rotateLocked(); err != nil {
		// Keep logging to the oversized file rather than dropping entries.
		fmt.Fprintf(os.Stderr, "[ERROR] failed to rotate log file: %v\n", err)
		return err
	}
	return nil
}

// rotateLocked renames backups N→N+1, moves the current file to .1 and
// reopens a fresh file. Caller must hold the mutex.
func (fw *FileWriter) rotateLocked() error {
	if err := fw.file.Close(); err != nil {
		return fmt.Errorf("failed to close file before rotation: %w", err)
	}

	if fw.maxBackups == 0 {
		if err := os.Remove(fw.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove current log file: %w", err)
		}
	} else {
		oldest := fmt.Sprintf("%s.%d", fw.path, fw.maxBackups)
		if _, err := os.Stat(oldest); err == nil {
			if err := os.Remove(oldest); err != nil {
				return fmt.Errorf("failed to delete oldest backup: %w", err)
			}
		}
		for i := fw.maxBackups - 1; i >= 1; i-- {
			oldPath := fmt.Sprintf("%s.%d", fw.path, i)
			if _, err := os.Stat(oldPath); err == nil {
				newPath := fmt.Sprintf("%s.%d", fw.path, i+1)
				if err := os.Rename(oldPath, newPath); err != nil {
					return fmt.Errorf("failed to rename backup %s: %w", oldPath, err)
				}
			}
		}
		if _, err := os.Stat(fw.path); err == nil {
			if err := os.Rename(fw.path, fw.path+".1"); err != nil {
				return fmt.Errorf("failed to rename current log: %w", err)
			}
		}
	}

	file, err := os.OpenFile(fw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen file after rotation: %w", err)
	}
	fw.file = file
	fw.buffer = bufio.NewWriterSize(file, 64*1024)
	return nil
}

// Close stops the flush timer, flushes the buffer and closes the file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return nil
	}
	fw.closed = true

	if fw.flushTimer != nil {
		fw.flushTimer.Stop()
	}
	if err := fw.buffer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] failed to flush buffer during close: %v\n", err)
	}
	if err := fw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
