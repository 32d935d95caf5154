package logging

import (
	"io"
	"strings"
)

// MultiWriter routes formatted log lines to console and file by level:
// WARN/ERROR go to both, DEBUG/INFO to the file only. With file logging
// disabled everything goes to the console.
type MultiWriter struct {
	console     io.Writer
	file        io.Writer
	fileEnabled bool
}

// NewMultiWriter creates a MultiWriter with the specified writers
func NewMultiWriter(console, file io.Writer, fileEnabled bool) *MultiWriter {
	return &MultiWriter{
		console:     console,
		file:        file,
		fileEnabled: fileEnabled,
	}
}

// Write implements io.Writer and routes lines based on the embedded level
func (m *MultiWriter) Write(p []byte) (int, error) {
	if !m.fileEnabled || m.file == nil {
		return m.console.Write(p)
	}

	level := extractLevel(p)
	n, err := m.file.Write(p)
	if level == "WARN" || level == "ERROR" {
		if cn, cerr := m.console.Write(p); cerr == nil && cn > n {
			n = cn
		}
	}
	return n, err
}

// extractLevel parses the level from a formatted line:
// [YYYY-MM-DD HH:MM:SS] LEVEL [component] ...
func extractLevel(p []byte) string {
	msg := string(p)
	i := strings.Index(msg, "] ")
	if i == -1 {
		return ""
	}
	rest := msg[i+2:]
	j := strings.IndexByte(rest, ' ')
	if j == -1 {
		return ""
	}
	return rest[:j]
}
