package parse

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/luna-labs/accuracy.report/internal/timeutil"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// Heart-rate samples outside (0, maxHR] are sensor artifacts.
const maxHR = 300

// LunaHRParser reads the band's heart-rate CSV export. Stamps are either
// full date-times or bare times of day; bare times take their date from
// the file name, falling back to today.
type LunaHRParser struct {
	Clock ClockConfig
	Now   timeutil.Clock
}

func (*LunaHRParser) Format() Format                { return FormatLunaHR }
func (*LunaHRParser) DeviceType() vitals.DeviceType { return vitals.DeviceLuna }
func (*LunaHRParser) Metric() vitals.Metric         { return vitals.MetricHR }

func isHRHeader(h string) bool {
	return strings.Contains(h, "heart") || strings.Contains(h, "bpm") || hasToken(h, "hr")
}

func (p *LunaHRParser) day(path string, loc *time.Location) time.Time {
	if d, ok := dateFromFileName(path); ok {
		return d
	}
	now := time.Now()
	if p.Now != nil {
		now = p.Now.Now()
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (p *LunaHRParser) Parse(ctx context.Context, req Request, r io.Reader) (*Result, error) {
	res := &Result{Format: FormatLunaHR}
	st := &res.Stats
	bad := func() { st.Total++; st.Skipped++ }

	rs := newRecords(r)
	header, ok, err := rs.next(ctx, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, structural(FormatLunaHR, req.Path, ErrNoTimestampColumn, "empty file")
	}
	tsCol := findColumn(header, containsAny("time"))
	if tsCol < 0 {
		return nil, structural(FormatLunaHR, req.Path, ErrNoTimestampColumn, strings.Join(header, ","))
	}
	hrCol := findColumn(header, isHRHeader, tsCol)
	if hrCol < 0 {
		return nil, structural(FormatLunaHR, req.Path, ErrNoValueColumn, strings.Join(header, ","))
	}

	loc := p.Clock.location()
	day := p.day(req.Path, loc)
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
		rawHR, ok2 := field(rec, hrCol)
		if !ok1 || !ok2 {
			st.Skipped++
			continue
		}
		ts, err := parseWallClock(rawTS, loc, day)
		if err != nil {
			st.Skipped++
			continue
		}
		hr, err := strconv.ParseFloat(rawHR, 64)
		if err != nil || hr <= 0 || hr > maxHR {
			st.Skipped++
			continue
		}
		ts = vitals.TruncateSecond(ts)
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
		res.Readings = append(res.Readings, reading(req, vitals.DeviceLuna, vitals.MetricHR, ts, vitals.Float64(v), true))
	})
	st.Emitted = len(res.Readings)
	return res, nil
}
