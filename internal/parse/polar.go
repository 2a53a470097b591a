package parse

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var polarDateLayouts = []string{"02-01-2006", "2006-01-02", "02.01.2006"}

// PolarParser reads the chest strap's text export: a two-row summary block
// (names, then values) holding the recording's date and start time,
// followed by a "Sample rate,Time,HR (bpm)" section whose Time column is
// elapsed since start.
type PolarParser struct {
	Clock ClockConfig
}

func (*PolarParser) Format() Format                { return FormatPolar }
func (*PolarParser) DeviceType() vitals.DeviceType { return vitals.DevicePolar }
func (*PolarParser) Metric() vitals.Metric         { return vitals.MetricHR }

// polarDataHeader locates the elapsed-time and HR columns of the data
// section header, if rec is one.
func polarDataHeader(rec []string) (timeCol, hrCol int, ok bool) {
	sampleCol := findColumn(rec, func(h string) bool { return h == "sample rate" })
	timeCol = findColumn(rec, func(h string) bool { return h == "time" })
	hrCol = findColumn(rec, func(h string) bool { return strings.HasPrefix(h, "hr") })
	return timeCol, hrCol, sampleCol >= 0 && timeCol >= 0 && hrCol >= 0
}

// polarBaseTime reads Date and Start time from the summary block as a UTC
// wall clock.
func polarBaseTime(meta [][]string) (time.Time, error) {
	if len(meta) < 2 {
		return time.Time{}, fmt.Errorf("summary block has %d rows", len(meta))
	}
	names, values := meta[0], meta[1]
	dateCol := findColumn(names, func(h string) bool { return h == "date" })
	startCol := findColumn(names, func(h string) bool { return h == "start time" })
	rawDate, ok1 := field(values, dateCol)
	rawStart, ok2 := field(values, startCol)
	if !ok1 || !ok2 {
		return time.Time{}, fmt.Errorf("summary block lacks Date or Start time")
	}
	var day time.Time
	var err error
	for _, layout := range polarDateLayouts {
		if day, err = time.Parse(layout, rawDate); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", rawDate)
	}
	clock, err := time.Parse("15:04:05", rawStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q", rawStart)
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC), nil
}

func (p *PolarParser) Parse(ctx context.Context, req Request, r io.Reader) (*Result, error) {
	res := &Result{Format: FormatPolar}
	st := &res.Stats
	rs := newRecords(r)

	var meta [][]string
	timeCol, hrCol := -1, -1
	for {
		rec, ok, err := rs.next(ctx, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, structural(FormatPolar, req.Path, ErrNoDataSection, "missing Sample rate,Time,HR (bpm) header")
		}
		var found bool
		if timeCol, hrCol, found = polarDataHeader(rec); found {
			break
		}
		meta = append(meta, rec)
	}
	base, err := polarBaseTime(meta)
	if err != nil {
		return nil, structural(FormatPolar, req.Path, ErrNoBaseTime, err.Error())
	}

	bad := func() { st.Total++; st.Skipped++ }
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
		rawT, ok1 := field(rec, timeCol)
		rawHR, ok2 := field(rec, hrCol)
		if !ok1 || !ok2 {
			st.Skipped++
			continue
		}
		elapsed, err := parseElapsed(rawT)
		if err != nil {
			st.Skipped++
			continue
		}
		hr, err := strconv.ParseFloat(rawHR, 64)
		if err != nil || hr <= 0 || hr > maxHR {
			st.Skipped++
			continue
		}
		ts := vitals.TruncateSecond(p.Clock.adjust(base.Add(elapsed)))
		if !win.contains(ts) {
			st.OutOfWindow++
			continue
		}
		st.Accepted++
		buckets.add(ts, hr)
	}

	res.Readings = make([]vitals.Reading, 0, buckets.len())
	buckets.each(func(ts time.Time, b *bucket) {
		v, ok := meanRounded(b)
		if !ok {
			return
		}
		res.Readings = append(res.Readings, reading(req, vitals.DevicePolar, vitals.MetricHR, ts, vitals.Float64(v), true))
	})
	st.Emitted = len(res.Readings)
	return res, nil
}
