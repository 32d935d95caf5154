package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entry represents a structured log entry
type Entry struct {
	Timestamp time.Time
	Level     Level
	Component string
	Message   string
	Context   map[string]interface{}
}

// Format renders an entry as a single line:
// [YYYY-MM-DD HH:MM:SS] LEVEL [component] message key=value
func Format(entry Entry) string {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05"))
	sb.WriteString("] ")

	sb.WriteString(entry.Level.String())
	sb.WriteString(" ")

	sb.WriteString("[")
	sb.WriteString(entry.Component)
	sb.WriteString("] ")

	sb.WriteString(entry.Message)

	// Context fields in deterministic order
	if len(entry.Context) > 0 {
		keys := make([]string, 0, len(entry.Context))
		for k := range entry.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, entry.Context[k]))
		}
	}

	sb.WriteString("\n")
	return sb.String()
}
