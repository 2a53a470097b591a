package parse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luna-labs/accuracy.report/internal/timeutil"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var (
	t0      = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ist     = 5*time.Hour + 30*time.Minute
	testReq = Request{
		Path:  "session.csv",
		Meta:  Meta{SessionID: "s1", UserID: "u1", DeviceID: "dev", FirmwareVersion: "2.1.0"},
		Start: t0,
		End:   t0.Add(10 * time.Second),
	}
)

func parseString(t *testing.T, p Parser, req Request, body string) *Result {
	t.Helper()
	res, err := p.Parse(context.Background(), req, strings.NewReader(body))
	require.NoError(t, err)
	return res
}

func values(rs []vitals.Reading) []any {
	out := make([]any, len(rs))
	for i, r := range rs {
		if r.Value == nil {
			out[i] = nil
			continue
		}
		out[i] = *r.Value
	}
	return out
}

func stamps(rs []vitals.Reading) []time.Time {
	out := make([]time.Time, len(rs))
	for i, r := range rs {
		out[i] = r.Timestamp
	}
	return out
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(ClockConfig{}, nil)
	assert.Equal(t, []Format{FormatLunaHR, FormatLunaSpO2, FormatMasimo, FormatPolar}, reg.Formats())

	for _, f := range Formats {
		p, err := reg.Lookup(f)
		require.NoError(t, err)
		assert.Equal(t, f, p.Format())
	}

	_, err := reg.Lookup("fitbit")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	f, err := ParseFormat(" Polar ")
	require.NoError(t, err)
	assert.Equal(t, FormatPolar, f)
	_, err = ParseFormat("garmin")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestSecondBuckets(t *testing.T) {
	b := newSecondBuckets()
	b.add(t0.Add(900*time.Millisecond).Truncate(time.Second), 72.5)
	b.add(t0, 70)
	b.add(t0, 71)
	b.add(t0.Add(time.Second), 80)

	var got []float64
	var keys []time.Time
	b.each(func(ts time.Time, bk *bucket) {
		v, ok := meanRounded(bk)
		require.True(t, ok)
		got = append(got, v)
		keys = append(keys, ts)
	})
	assert.Equal(t, []float64{71.17, 80}, got)
	assert.Equal(t, []time.Time{t0, t0.Add(time.Second)}, keys)

	w := newSecondBuckets()
	w.addWeighted(t0, 96, 2)
	w.addWeighted(t0, 98, 1)
	v, ok := weightedMean(w.touch(t0))
	require.True(t, ok)
	assert.InDelta(t, 290.0/3, v, 1e-9)

	_, ok = weightedMean(w.touch(t0.Add(time.Second)))
	assert.False(t, ok, "touched bucket without samples has no value")
}

func TestLunaHRBucketsAndFilters(t *testing.T) {
	body := `Timestamp,Heart Rate (bpm)
2024-05-01 10:00:00.100,70
2024-05-01 10:00:00.600,71
2024-05-01 10:00:00.900,72.5
==========,==========
2024-05-01 10:00:01.000,80
2024-05-01 10:00:02,0
2024-05-01 10:00:03,301
2024-05-01 10:00:04,abc
not-a-time,75
2024-05-01 09:59:59,60
2024-05-01 10:00:11,90
2024-05-01 10:00:10,88
`
	p := &LunaHRParser{}
	res := parseString(t, p, testReq, body)

	assert.Equal(t, []any{71.17, 80.0, 88.0}, values(res.Readings))
	assert.Equal(t, []time.Time{t0, t0.Add(time.Second), t0.Add(10 * time.Second)}, stamps(res.Readings))
	assert.Equal(t, Stats{Total: 12, Accepted: 5, Skipped: 5, OutOfWindow: 2, Emitted: 3}, res.Stats)

	r := res.Readings[0]
	assert.Equal(t, vitals.DeviceLuna, r.DeviceType)
	assert.Equal(t, vitals.MetricHR, r.Metric)
	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, "2.1.0", r.FirmwareVersion)
	assert.True(t, r.Usable())
}

func TestHRAcceptanceWindow(t *testing.T) {
	luna := parseString(t, &LunaHRParser{}, testReq, `Timestamp,Heart Rate (bpm)
2024-05-01 10:00:00,0.5
2024-05-01 10:00:01,300
2024-05-01 10:00:02,300.5
2024-05-01 10:00:03,-1
`)
	assert.Equal(t, []any{0.5, 300.0}, values(luna.Readings))

	polar := parseString(t, &PolarParser{}, testReq, `Name,Sport,Date,Start time,Duration
Jane Doe,RUNNING,01-05-2024,10:00:00,00:00:10
Sample rate,Time,HR (bpm)
1,00:00:00,300
,00:00:01,301
,00:00:02,0
`)
	assert.Equal(t, []any{300.0}, values(polar.Readings))
}

func TestLunaHRBareTimes(t *testing.T) {
	body := "time,hr\n10:00:00.250,70\n10:00:05,75\n"

	req := testReq
	req.Path = "/data/luna_hr_2024-5-1.csv"
	res := parseString(t, &LunaHRParser{}, req, body)
	assert.Equal(t, []time.Time{t0, t0.Add(5 * time.Second)}, stamps(res.Readings))

	// No date in the file name: today according to the injected clock.
	req.Path = "/data/luna_hr.csv"
	p := &LunaHRParser{Now: timeutil.NewMockClock(t0.Add(3 * time.Hour))}
	res = parseString(t, p, req, body)
	assert.Len(t, res.Readings, 2)

	p.Now = timeutil.NewMockClock(t0.AddDate(0, 0, 1))
	res = parseString(t, p, req, body)
	assert.Empty(t, res.Readings)
	assert.Equal(t, 2, res.Stats.OutOfWindow)
}

func TestLunaHRStructuralErrors(t *testing.T) {
	p := &LunaHRParser{}
	for name, body := range map[string]string{
		"no timestamp": "date,heart rate\n2024-05-01,70\n",
		"no value":     "timestamp,steps\n2024-05-01 10:00:00,70\n",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse(context.Background(), testReq, strings.NewReader(body))
			require.Error(t, err)
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, FormatLunaHR, perr.Format)
			if name == "no value" {
				assert.ErrorIs(t, err, ErrNoValueColumn)
			} else {
				assert.ErrorIs(t, err, ErrNoTimestampColumn)
			}
		})
	}
}

func TestLunaSpO2Weighting(t *testing.T) {
	body := `timestamp,spo2,quality
2024-05-01 10:00:00.1,96,2
2024-05-01 10:00:00.5,98,1
2024-05-01 10:00:01,97,0
2024-05-01 10:00:02,101,3
2024-05-01 10:00:02.5,95,1
2024-05-01 10:00:03,x,1
`
	res := parseString(t, &LunaSpO2Parser{}, testReq, body)
	require.Len(t, res.Readings, 3)
	assert.InDelta(t, 290.0/3, *res.Readings[0].Value, 1e-9)

	assert.Nil(t, res.Readings[1].Value, "only zero-quality samples leaves a null bucket")
	assert.False(t, res.Readings[1].Valid)
	assert.Equal(t, t0.Add(time.Second), res.Readings[1].Timestamp)

	assert.Equal(t, 95.0, *res.Readings[2].Value)
	assert.Equal(t, Stats{Total: 6, Accepted: 5, Skipped: 1, Invalid: 2, Emitted: 3}, res.Stats)
}

func TestLunaSpO2WithoutQuality(t *testing.T) {
	body := "Time,SpO2 (%)\n2024-05-01T10:00:00,96\n2024-05-01T10:00:00.5,97\n"
	res := parseString(t, &LunaSpO2Parser{}, testReq, body)
	require.Len(t, res.Readings, 1)
	assert.Equal(t, 96.5, *res.Readings[0].Value)
}

func TestLunaSpO2Location(t *testing.T) {
	body := "time,spo2,confidence\n15:30:00,96,1\n"

	// Wall clock in IST lands on 10:00 UTC; the host zone never matters.
	p := &LunaSpO2Parser{Clock: ClockConfig{Location: time.FixedZone("IST", int(ist.Seconds()))}}
	res := parseString(t, p, testReq, body)
	require.Len(t, res.Readings, 1)
	assert.Equal(t, t0, res.Readings[0].Timestamp)

	p = &LunaSpO2Parser{}
	res = parseString(t, p, testReq, body)
	assert.Empty(t, res.Readings)
	assert.Equal(t, 1, res.Stats.OutOfWindow)
}

func TestMasimo(t *testing.T) {
	body := `Timestamp,SpO2,PR,SIQ
1714557602,97,70,--
1714557600,96,71,3
1714557601,95,72,0
1714557603,--,72,3
1714557604,abc,72,3
1714557605,120,72,3
1714557606,98,72,
====,====
1714557700,98,72,3
`
	res := parseString(t, &MasimoParser{}, testReq, body)
	assert.Equal(t, []time.Time{t0, t0.Add(time.Second), t0.Add(2 * time.Second), t0.Add(6 * time.Second)}, stamps(res.Readings))
	assert.Equal(t, []any{96.0, 95.0, 97.0, 98.0}, values(res.Readings))

	invalid := res.Readings[1]
	assert.False(t, invalid.Valid, "zero signal quality keeps the row but flags it")
	assert.NotNil(t, invalid.Value)
	assert.True(t, invalid.Usable(), "a flagged row still takes part in matching")
	assert.True(t, res.Readings[2].Valid, `"--" quality counts as valid`)
	assert.Equal(t, vitals.DeviceMasimo, invalid.DeviceType)

	assert.Equal(t, Stats{Total: 9, Accepted: 4, Skipped: 4, Invalid: 1, OutOfWindow: 1, Emitted: 4}, res.Stats)
}

func TestMasimoReferenceOffset(t *testing.T) {
	shifted := "time,spo2\n1714537800,96\n"
	for _, tc := range []struct {
		name   string
		offset time.Duration
		body   string
	}{
		{"utc reference", 0, "time,spo2\n1714557600,96\n"},
		{"ist reference", ist, shifted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := &MasimoParser{Clock: ClockConfig{ReferenceOffset: tc.offset}}
			res := parseString(t, p, testReq, tc.body)
			require.Len(t, res.Readings, 1)
			assert.Equal(t, t0, res.Readings[0].Timestamp)
		})
	}

	res := parseString(t, &MasimoParser{}, testReq, shifted)
	assert.Empty(t, res.Readings, "without the offset the sample is 5h30m early")
}

func TestMasimoNoValueColumn(t *testing.T) {
	_, err := (&MasimoParser{}).Parse(context.Background(), testReq, strings.NewReader("time,pr\n1714557600,70\n"))
	assert.ErrorIs(t, err, ErrNoValueColumn)
}

const polarExport = `Name,Sport,Date,Start time,Duration,Total distance (km),Average heart rate (bpm)
Jane Doe,RUNNING,01-05-2024,%s,00:00:10,1.2,82
Sample rate,Time,HR (bpm),Speed (km/h)
1,00:00:00,80,0.0
,00:00:01,82,1.1
,00:00:02,,1.1
,00:00:03,400,1.1
,xx:00:04,85,1.1
,00:00:05,86,1.2
,00:00:20,90,1.2
`

func TestPolar(t *testing.T) {
	for _, tc := range []struct {
		name   string
		start  string
		offset time.Duration
	}{
		{"utc reference", "10:00:00", 0},
		{"ist reference", "04:30:00", ist},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := &PolarParser{Clock: ClockConfig{ReferenceOffset: tc.offset}}
			res := parseString(t, p, testReq, strings.Replace(polarExport, "%s", tc.start, 1))

			assert.Equal(t, []time.Time{t0, t0.Add(time.Second), t0.Add(5 * time.Second)}, stamps(res.Readings))
			assert.Equal(t, []any{80.0, 82.0, 86.0}, values(res.Readings))
			assert.Equal(t, Stats{Total: 7, Accepted: 3, Skipped: 3, OutOfWindow: 1, Emitted: 3}, res.Stats)
			assert.Equal(t, vitals.DevicePolar, res.Readings[0].DeviceType)
		})
	}
}

func TestPolarStructuralErrors(t *testing.T) {
	p := &PolarParser{}

	_, err := p.Parse(context.Background(), testReq, strings.NewReader("Name,Date,Start time\nJane,01-05-2024,10:00:00\n1,00:00:00,80\n"))
	assert.ErrorIs(t, err, ErrNoDataSection)

	_, err = p.Parse(context.Background(), testReq, strings.NewReader("Name,Date\nJane,01-05-2024\nSample rate,Time,HR (bpm)\n1,00:00:00,80\n"))
	assert.ErrorIs(t, err, ErrNoBaseTime)

	_, err = p.Parse(context.Background(), testReq, strings.NewReader("Name,Date,Start time\nJane,2024/31/31,10:00:00\nSample rate,Time,HR (bpm)\n"))
	assert.ErrorIs(t, err, ErrNoBaseTime)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polar.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(polarExport, "%s", "10:00:00", 1)), 0o644))

	req := testReq
	req.Path = path
	res, err := ParseFile(context.Background(), &PolarParser{}, req)
	require.NoError(t, err)
	assert.Equal(t, FormatPolar, res.Format)
	assert.Len(t, res.Readings, 3)

	req.Path = filepath.Join(t.TempDir(), "missing.csv")
	_, err = ParseFile(context.Background(), &PolarParser{}, req)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseCancelled(t *testing.T) {
	var b strings.Builder
	b.WriteString("timestamp,hr\n")
	for i := 0; i < 3*ctxCheckEvery; i++ {
		b.WriteString("2024-05-01 10:00:00,70\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&LunaHRParser{}).Parse(ctx, testReq, strings.NewReader(b.String()))
	assert.ErrorIs(t, err, context.Canceled)
}
