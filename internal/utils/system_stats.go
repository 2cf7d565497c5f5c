package utils

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"facestore/internal/core/models"
	"facestore/internal/util/timezone"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

var (
	lastCPUTime        time.Time
	lastCPUUsage       float64
	cpuUsageMutex      sync.Mutex
	cpuUsageSampleRate = 500 * time.Millisecond
)

// StatsProvider liefert die Kennzahlen des Identity-Stores
type StatsProvider interface {
	Stats(ctx context.Context) (models.Statistics, error)
}

// SystemStats enthält aktuelle System- und Store-Statistiken
type SystemStats struct {
	// Prozess
	NumCPU      int     `json:"num_cpu"`
	GoRoutines  int     `json:"go_routines"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	MemoryAlloc uint64  `json:"memory_alloc"`
	MemorySys   uint64  `json:"memory_sys"`

	// Identity-Store
	PersonCount int64 `json:"person_count"`
	FaceCount   int64 `json:"face_count"`
	Dimension   int   `json:"dimension"`

	Timestamp time.Time `json:"timestamp"`
}

// FormatBytes formatiert Bytes in lesbare Einheiten (KB, MB, GB)
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// GetCPUUsage misst die CPU-Auslastung mit gopsutil. Innerhalb von 500ms wird der letzte Wert wiederverwendet.
func GetCPUUsage() float64 {
	cpuUsageMutex.Lock()
	defer cpuUsageMutex.Unlock()

	if time.Since(lastCPUTime) < cpuUsageSampleRate && lastCPUTime.Unix() > 0 {
		return lastCPUUsage
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("Failed to measure CPU usage: %v", err)
		return 0.0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0]
	}

	lastCPUTime = time.Now()
	lastCPUUsage = usage

	return usage
}

// GetMemoryUsage liefert die belegte Arbeitsspeicher-Quote des Hosts in Prozent
func GetMemoryUsage() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Warnf("Failed to measure memory usage: %v", err)
		return 0.0
	}
	return vm.UsedPercent
}

// GetSystemStats erfasst Prozess- und Store-Statistiken. provider darf nil sein.
func GetSystemStats(ctx context.Context, provider StatsProvider) (*SystemStats, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		NumCPU:      runtime.NumCPU(),
		GoRoutines:  runtime.NumGoroutine(),
		CPUUsage:    GetCPUUsage(),
		MemoryUsage: GetMemoryUsage(),
		MemoryAlloc: memStats.Alloc,
		MemorySys:   memStats.Sys,
		Timestamp:   timezone.Now(),
	}

	if provider != nil {
		storeStats, err := provider.Stats(ctx)
		if err != nil {
			return nil, err
		}
		stats.PersonCount = storeStats.PersonCount
		stats.FaceCount = storeStats.FaceCount
		stats.Dimension = storeStats.Dimension
	}

	return stats, nil
}
