package common

import (
	"fmt"
	"runtime"
	"time"
)

// MemoryStats holds the heap figures reported by benchmarks.
type MemoryStats struct {
	Alloc         uint64
	TotalAlloc    uint64
	Sys           uint64
	Mallocs       uint64
	HeapObjects   uint64
	NumGC         uint32
	GCCPUFraction float64
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:         m.Alloc,
		TotalAlloc:    m.TotalAlloc,
		Sys:           m.Sys,
		Mallocs:       m.Mallocs,
		HeapObjects:   m.HeapObjects,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.Alloc/1024,
		m.TotalAlloc/1024,
		m.Sys/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// BenchmarkResult holds the outcome of Measure.
type BenchmarkResult struct {
	Name         string
	Durations    []time.Duration // one per successful iteration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Error        error
}

// Iterations returns the number of completed iterations.
func (br BenchmarkResult) Iterations() int { return len(br.Durations) }

// Total returns the summed duration of all iterations.
func (br BenchmarkResult) Total() time.Duration {
	var total time.Duration
	for _, d := range br.Durations {
		total += d
	}
	return total
}

// Average returns the mean iteration time, or 0 without iterations.
func (br BenchmarkResult) Average() time.Duration {
	if len(br.Durations) == 0 {
		return 0
	}
	return br.Total() / time.Duration(len(br.Durations))
}

// AllocatedPerIteration returns the bytes allocated per iteration.
func (br BenchmarkResult) AllocatedPerIteration() uint64 {
	if len(br.Durations) == 0 {
		return 0
	}
	return (br.MemoryAfter.TotalAlloc - br.MemoryBefore.TotalAlloc) / uint64(len(br.Durations))
}

// String returns a formatted string representation of the benchmark result.
func (br BenchmarkResult) String() string {
	if br.Error != nil {
		return fmt.Sprintf("%s: ERROR after %d iterations - %v", br.Name, br.Iterations(), br.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, alloc/op: %d KB",
		br.Name, br.Iterations(), br.Average(), br.Total(), br.AllocatedPerIteration()/1024)
}

// Measure runs fn iterations times and stops at the first error.
func Measure(name string, iterations int, fn func(i int) error) BenchmarkResult {
	runtime.GC()
	res := BenchmarkResult{Name: name, MemoryBefore: GetMemoryStats()}
	for i := range iterations {
		t := NewNamedTimer(name)
		if err := fn(i); err != nil {
			res.Error = err
			break
		}
		res.Durations = append(res.Durations, t.Stop())
	}
	res.MemoryAfter = GetMemoryStats()
	return res
}
