package pipeline

import (
	"sync/atomic"
	"time"
)

// Profiler aggregates stage timings across runs.
type Profiler struct {
	AlignTimeNs   atomic.Int64
	OCRTimeNs     atomic.Int64
	ExtractTimeNs atomic.Int64
	Photos        atomic.Int64
	Fields        atomic.Int64
}

func (p *Profiler) addAlign(d time.Duration) { p.AlignTimeNs.Add(int64(d)) }

func (p *Profiler) addOCR(d time.Duration) { p.OCRTimeNs.Add(int64(d)) }

func (p *Profiler) addExtract(d time.Duration, fields int) {
	p.ExtractTimeNs.Add(int64(d))
	p.Photos.Add(1)
	p.Fields.Add(int64(fields))
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	photos := p.Photos.Load()
	al := p.AlignTimeNs.Load()
	oc := p.OCRTimeNs.Load()
	out := map[string]any{
		"photos":         photos,
		"fields":         p.Fields.Load(),
		"align_ms_total": al / 1_000_000,
		"ocr_ms_total":   oc / 1_000_000,
	}
	if photos > 0 {
		out["align_ms_per_photo"] = float64(al) / 1_000_000.0 / float64(photos)
		out["ocr_ms_per_photo"] = float64(oc) / 1_000_000.0 / float64(photos)
	}
	return out
}
