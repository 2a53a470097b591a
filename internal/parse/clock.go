package parse

import "time"

// ClockConfig describes how device clocks map onto session time.
//
// Luna exports write zone-less wall-clock stamps; they are read in Location
// (UTC when nil), never in the host's zone. Benchmark devices (Masimo,
// Polar) may have recorded against a clock in another zone than the one
// sessions are defined in; ReferenceOffset is added to every benchmark
// timestamp to compensate (for example +5h30m for an IST reference clock).
type ClockConfig struct {
	Location        *time.Location
	ReferenceOffset time.Duration
}

func (c ClockConfig) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// adjust applies the reference offset to a benchmark timestamp.
func (c ClockConfig) adjust(t time.Time) time.Time {
	return t.Add(c.ReferenceOffset).UTC()
}
