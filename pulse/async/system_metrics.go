package async

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/wakeup/errors"
)

// SystemMetrics is host memory usage reported alongside pool stats
type SystemMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// readSystemMetrics reports zeros when memory stats are unavailable
func readSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()
	if err != nil || total == 0 {
		return SystemMetrics{}
	}
	const gb = 1024 * 1024 * 1024
	used := float64(total-available) / gb
	totalGB := float64(total) / gb
	return SystemMetrics{
		MemoryUsedGB:  used,
		MemoryTotalGB: totalGB,
		MemoryPercent: used / totalGB * 100,
	}
}
