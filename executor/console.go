package executor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxLogEntries    = 1000
	maxLogMessageLen = 4096
)

// Console collects console output of one attempt and mirrors it to a
// logger. Entries beyond the cap are counted but neither kept nor logged.
type Console struct {
	logger  *zap.Logger
	entries []LogEntry
	dropped int
	mu      sync.Mutex
}

func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

func (c *Console) Log(level, msg string) {
	if len(msg) > maxLogMessageLen {
		msg = msg[:maxLogMessageLen] + "...(truncated)"
	}

	c.mu.Lock()
	if len(c.entries) >= maxLogEntries {
		c.dropped++
		first := c.dropped == 1
		c.mu.Unlock()
		if first {
			c.logger.Warn("sandbox console limit reached, dropping further output",
				zap.Int("max_entries", maxLogEntries))
		}
		return
	}
	c.entries = append(c.entries, LogEntry{Level: level, Message: msg, Time: time.Now()})
	c.mu.Unlock()

	fields := []zap.Field{zap.String("level", level), zap.String("message", msg)}
	switch level {
	case "error":
		c.logger.Warn("sandbox console", fields...)
	case "debug":
		c.logger.Debug("sandbox console", fields...)
	default:
		c.logger.Info("sandbox console", fields...)
	}
}

// Entries returns a copy of the captured entries.
func (c *Console) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Console) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
