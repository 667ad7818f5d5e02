package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GenerationMetrics describes one finished image generation.
type GenerationMetrics struct {
	Variant  string
	Steps    int
	Width    int
	Height   int
	CacheHit bool
	Bytes    int
	Duration time.Duration
}

// MegapixelsPerSecond is zero for cache hits and instant results.
func (m GenerationMetrics) MegapixelsPerSecond() float64 {
	if m.CacheHit || m.Duration <= 0 {
		return 0
	}
	return float64(m.Width*m.Height) / 1e6 / m.Duration.Seconds()
}

func (m GenerationMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("variant", m.Variant)
	enc.AddInt("steps", m.Steps)
	enc.AddInt("width", m.Width)
	enc.AddInt("height", m.Height)
	enc.AddBool("cache_hit", m.CacheHit)
	enc.AddInt("png_bytes", m.Bytes)
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	enc.AddFloat64("megapixels_per_second", m.MegapixelsPerSecond())
	return nil
}

// GenerationFields nests m under a "generation" key.
func GenerationFields(m GenerationMetrics) zap.Field {
	return zap.Object("generation", m)
}
