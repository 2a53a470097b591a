package parse

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/luna-labs/accuracy.report/internal/monitoring"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// Meta identifies who and what a file's readings belong to.
type Meta struct {
	SessionID       string
	UserID          string
	DeviceID        string
	FirmwareVersion string
	ActivityType    string
	BandPosition    string
}

// Request describes one file to parse. Start and End bound the session
// window inclusively; rows outside it are dropped.
type Request struct {
	Path  string
	Meta  Meta
	Start time.Time
	End   time.Time
}

// Stats counts what happened to each data row.
type Stats struct {
	Total       int `json:"total"`
	Accepted    int `json:"accepted"`
	Skipped     int `json:"skipped"`
	Invalid     int `json:"invalid"`
	OutOfWindow int `json:"outOfWindow"`
	Emitted     int `json:"emitted"`
}

// Result is the normalized output of one parse, ascending by timestamp.
type Result struct {
	Format   Format           `json:"format"`
	Readings []vitals.Reading `json:"-"`
	Stats    Stats            `json:"stats"`
}

// Parser converts one vendor export into readings.
type Parser interface {
	Format() Format
	DeviceType() vitals.DeviceType
	Metric() vitals.Metric
	Parse(ctx context.Context, req Request, r io.Reader) (*Result, error)
}

// ParseFile opens req.Path and runs p over it.
func ParseFile(ctx context.Context, p Parser, req Request) (*Result, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Path, err)
	}
	defer f.Close()

	res, err := p.Parse(ctx, req, f)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[parse] %s %s: total=%d accepted=%d skipped=%d invalid=%d out_of_window=%d emitted=%d",
		p.Format(), req.Path, res.Stats.Total, res.Stats.Accepted, res.Stats.Skipped,
		res.Stats.Invalid, res.Stats.OutOfWindow, res.Stats.Emitted)
	return res, nil
}

// window holds second-truncated inclusive bounds. A zero end leaves the
// window open.
type window struct {
	start time.Time
	end   time.Time
}

func newWindow(req Request) window {
	w := window{start: vitals.TruncateSecond(req.Start)}
	if !req.End.IsZero() {
		w.end = req.End.UTC()
	}
	return w
}

func (w window) contains(ts time.Time) bool {
	if ts.Before(w.start) {
		return false
	}
	return w.end.IsZero() || !ts.After(w.end)
}

// reading builds a normalized reading from request metadata.
func reading(req Request, d vitals.DeviceType, m vitals.Metric, ts time.Time, v *float64, valid bool) vitals.Reading {
	return vitals.Reading{
		SessionID:       req.Meta.SessionID,
		UserID:          req.Meta.UserID,
		DeviceID:        req.Meta.DeviceID,
		DeviceType:      d,
		FirmwareVersion: req.Meta.FirmwareVersion,
		Timestamp:       vitals.TruncateSecond(ts),
		Metric:          m,
		Value:           v,
		Valid:           valid,
	}
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ctxCheckEvery bounds how many rows are read between cancellation checks.
const ctxCheckEvery = 1024
