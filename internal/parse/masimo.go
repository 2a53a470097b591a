package parse

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// MasimoParser reads the reference oximeter's 1 Hz CSV export. Rows map to
// readings one-to-one; a low signal-quality row is kept but flagged
// invalid so it still holds its second during matching.
type MasimoParser struct {
	Clock ClockConfig
}

func (*MasimoParser) Format() Format                { return FormatMasimo }
func (*MasimoParser) DeviceType() vitals.DeviceType { return vitals.DeviceMasimo }
func (*MasimoParser) Metric() vitals.Metric         { return vitals.MetricSpO2 }

// masimoQualityOK treats a missing score ("--" or blank) as acceptable.
func masimoQualityOK(raw string) bool {
	if raw == "" || raw == "--" {
		return true
	}
	q, err := strconv.ParseFloat(raw, 64)
	return err == nil && q > 0
}

func (p *MasimoParser) Parse(ctx context.Context, req Request, r io.Reader) (*Result, error) {
	res := &Result{Format: FormatMasimo}
	st := &res.Stats
	bad := func() { st.Total++; st.Skipped++ }

	rs := newRecords(r)
	header, ok, err := rs.next(ctx, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, structural(FormatMasimo, req.Path, ErrNoTimestampColumn, "empty file")
	}
	tsCol := findColumn(header, containsAny("time", "epoch"))
	if tsCol < 0 {
		return nil, structural(FormatMasimo, req.Path, ErrNoTimestampColumn, strings.Join(header, ","))
	}
	valCol := findColumn(header, containsAny("spo2", "sp02"), tsCol)
	if valCol < 0 {
		return nil, structural(FormatMasimo, req.Path, ErrNoValueColumn, strings.Join(header, ","))
	}
	qCol := findColumn(header, containsAny("quality", "siq", "signal"), tsCol, valCol)

	win := newWindow(req)
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
		ts, err := parseEpoch(rawTS)
		if err != nil {
			st.Skipped++
			continue
		}
		v, err := strconv.ParseFloat(rawV, 64)
		if err != nil || !validSpO2(v) {
			st.Skipped++
			continue
		}
		ts = vitals.TruncateSecond(p.Clock.adjust(ts))
		if !win.contains(ts) {
			st.OutOfWindow++
			continue
		}
		st.Accepted++

		valid := true
		if qCol >= 0 {
			raw, _ := field(rec, qCol)
			valid = masimoQualityOK(raw)
		}
		if !valid {
			st.Invalid++
		}
		res.Readings = append(res.Readings, reading(req, vitals.DeviceMasimo, vitals.MetricSpO2, ts, vitals.Float64(v), valid))
	}

	sort.SliceStable(res.Readings, func(i, j int) bool {
		return res.Readings[i].Timestamp.Before(res.Readings[j].Timestamp)
	})
	st.Emitted = len(res.Readings)
	return res, nil
}
