package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cek/rclonebb/internal/types"
)

type bootstrapEntry struct {
	level   types.LogLevel
	message string
	raw     bool
}

// BootstrapLogger accumulates messages emitted before the run log exists
// (flag parsing, settings loading) so they can be replayed into the main
// logger once it is attached to the log file.
type BootstrapLogger struct {
	mu       sync.Mutex
	entries  []bootstrapEntry
	flushed  bool
	minLevel types.LogLevel
}

// NewBootstrapLogger creates a bootstrap logger with INFO as default level.
func NewBootstrapLogger() *BootstrapLogger {
	return &BootstrapLogger{
		minLevel: types.LogLevelInfo,
	}
}

// SetLevel updates the minimum level applied at flush time.
func (b *BootstrapLogger) SetLevel(level types.LogLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minLevel = level
}

// Println records a raw line (banner text without a level header).
func (b *BootstrapLogger) Println(message string) {
	fmt.Println(message)
	b.record(types.LogLevelInfo, message, true)
}

// Printf records a formatted line as raw.
func (b *BootstrapLogger) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	b.record(types.LogLevelInfo, msg, true)
}

// Debug records an early debug message without printing it to console.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.record(types.LogLevelDebug, fmt.Sprintf(format, args...), false)
}

// Info records an early informational message.
func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
	b.record(types.LogLevelInfo, msg, false)
}

// Warning records an early warning (printed to stderr).
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, strings.TrimSuffix(msg, "\n"))
	b.record(types.LogLevelWarning, msg, false)
}

// Error records an early error (printed to stderr).
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, strings.TrimSuffix(msg, "\n"))
	b.record(types.LogLevelError, msg, false)
}

func (b *BootstrapLogger) record(level types.LogLevel, message string, raw bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, bootstrapEntry{
		level:   level,
		message: message,
		raw:     raw,
	})
}

// Flush replays the accumulated entries into the logger's mirrored log
// file. The console already saw them as they happened, so the replay is
// file-only. Only the first call has any effect.
func (b *BootstrapLogger) Flush(logger *Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		return
	}
	for _, entry := range b.entries {
		if entry.raw {
			logger.AppendRaw(entry.message)
			continue
		}
		if entry.level > b.minLevel {
			continue
		}
		logger.AppendRaw(fmt.Sprintf("%s: %s", entry.level, strings.TrimSuffix(entry.message, "\n")))
	}
	b.flushed = true
	b.entries = nil
}
