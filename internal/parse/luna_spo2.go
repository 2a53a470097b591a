package parse

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// LunaSpO2Parser reads the band's oxygen-saturation CSV export. Each raw
// sample carries a quality score that weights it within its second.
type LunaSpO2Parser struct {
	Clock ClockConfig
}

func (*LunaSpO2Parser) Format() Format                { return FormatLunaSpO2 }
func (*LunaSpO2Parser) DeviceType() vitals.DeviceType { return vitals.DeviceLuna }
func (*LunaSpO2Parser) Metric() vitals.Metric         { return vitals.MetricSpO2 }

func isSpO2Header(h string) bool {
	return strings.Contains(h, "spo2") || strings.Contains(h, "sp02") || strings.Contains(h, "oxygen")
}

func validSpO2(v float64) bool { return v >= 0 && v <= 100 }

func (p *LunaSpO2Parser) Parse(ctx context.Context, req Request, r io.Reader) (*Result, error) {
	res := &Result{Format: FormatLunaSpO2}
	st := &res.Stats
	bad := func() { st.Total++; st.Skipped++ }

	rs := newRecords(r)
	header, ok, err := rs.next(ctx, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, structural(FormatLunaSpO2, req.Path, ErrNoTimestampColumn, "empty file")
	}
	tsCol := findColumn(header, containsAny("time"))
	if tsCol < 0 {
		return nil, structural(FormatLunaSpO2, req.Path, ErrNoTimestampColumn, strings.Join(header, ","))
	}
	valCol := findColumn(header, isSpO2Header, tsCol)
	if valCol < 0 {
		return nil, structural(FormatLunaSpO2, req.Path, ErrNoValueColumn, strings.Join(header, ","))
	}
	qCol := findColumn(header, containsAny("quality", "confidence"), tsCol, valCol)

	loc := p.Clock.location()
	y, m, d := req.Start.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	win := newWindow(req)
	buckets := newSecondBuckets()

	for {
		rec, ok, err := rs.next(ctx, bad)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		st.Total++
		if separatorRow(rec) {
			st.Skipped++
			continue
		}
		rawTS, ok1 := field(rec, tsCol)
		rawV, ok2 := field(rec, valCol)
		if !ok1 || !ok2 {
			st.Skipped++
			continue
		}
		ts, err := parseWallClock(rawTS, loc, day)
		if err != nil {
			st.Skipped++
			continue
		}
		v, err := strconv.ParseFloat(rawV, 64)
		if err != nil {
			st.Skipped++
			continue
		}
		ts = vitals.TruncateSecond(ts)
		if !win.contains(ts) {
			st.OutOfWindow++
			continue
		}
		st.Accepted++

		q := 1.0
		if qCol >= 0 {
			raw, _ := field(rec, qCol)
			q, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				q = 0
			}
		}
		if q <= 0 || !validSpO2(v) {
			st.Invalid++
			buckets.touch(ts)
			continue
		}
		buckets.addWeighted(ts, v, q)
	}

	res.Readings = make([]vitals.Reading, 0, buckets.len())
	buckets.each(func(ts time.Time, b *bucket) {
		var val *float64
		v, ok := weightedMean(b)
		if ok {
			val = vitals.Float64(v)
		}
		res.Readings = append(res.Readings, reading(req, vitals.DeviceLuna, vitals.MetricSpO2, ts, val, ok))
	})
	st.Emitted = len(res.Readings)
	return res, nil
}
