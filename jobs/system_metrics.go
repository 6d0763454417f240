package jobs

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/researchintegrity/elis-backend/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"` // Workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`  // Total configured workers
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsPending   int     `json:"jobs_pending"`
	JobsRunning   int     `json:"jobs_running"`
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}

	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends worker count based on available memory.
// A worker holding descriptor sets for a deep traversal can reach ~2GB.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 2.0 // GB per concurrent analysis
	const memoryBuffer = 2.0    // GB reserved for the OS and collaborators

	if availableGB < memoryBuffer {
		return 1 // Always allow at least 1 worker
	}

	usableMemory := availableGB - memoryBuffer
	recommended := int(usableMemory / memoryPerWorker)

	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10 // Cap at reasonable maximum
	}

	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	pending, running, err := wp.queue.GetJobCounts()
	// Gracefully handle database errors - return 0s if query fails
	if err != nil {
		pending, running = 0, 0
	}

	wp.mu.Lock()
	activeWorkers := wp.activeWorkers
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: activeWorkers,
		WorkersTotal:  wp.workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsPending:   pending,
		JobsRunning:   running,
	}
}

// checkMemoryPressure validates worker count against available memory.
// Returns warning message if worker count may be too high, empty string if OK.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	totalGB := float64(total) / 1024 / 1024 / 1024
	availableGB := float64(available) / 1024 / 1024 / 1024

	if wp.poolConfig.MemoryWarnPercent > 0 && totalGB > 0 {
		usedPercent := (totalGB - availableGB) / totalGB * 100
		if usedPercent > wp.poolConfig.MemoryWarnPercent {
			return fmt.Sprintf(
				"System memory use %.1f%% exceeds %.1f%% threshold before workers started.",
				usedPercent, wp.poolConfig.MemoryWarnPercent)
		}
	}

	recommended := calculateSafeWorkerCount(availableGB)
	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}
