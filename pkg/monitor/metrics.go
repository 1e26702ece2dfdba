package monitor

import (
	"runtime"
	"sync/atomic"
	"time"

	"p2p-index/pkg/logger"
)

// Metrics holds transfer counters for a peer process
type Metrics struct {
	// Total content bytes moved (served or fetched)
	TransferBytes int64
	// Number of completed transfers
	TransferCount int64
	// Process start time
	Start time.Time
}

// Global metrics instance
var Global = &Metrics{
	Start: time.Now(),
}

// RecordTransfer records a completed transfer
func RecordTransfer(bytes int64) {
	atomic.AddInt64(&Global.TransferBytes, bytes)
	atomic.AddInt64(&Global.TransferCount, 1)
}

// Snapshot returns the accumulated byte and transfer counts.
func Snapshot() (bytes, count int64) {
	return atomic.LoadInt64(&Global.TransferBytes), atomic.LoadInt64(&Global.TransferCount)
}

// LogPeriodic logs runtime metrics at the specified interval
func LogPeriodic(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		bytes, count := Snapshot()
		logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | TransferBytes=%d | Transfers=%d",
			runtime.NumGoroutine(),
			m.HeapAlloc/1024/1024,
			bytes,
			count,
		)
	}
}
