package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/luna-labs/accuracy.report/internal/vitals"
)

// MetricSummary describes the distribution of a device's usable values.
type MetricSummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stdDev"`
	Range  float64 `json:"range"`
}

// DeviceStats summarizes one device's readings in a session. On the wire
// the summary sits under the metric's key ("heartRate", "spo2", ...) and
// is absent when the device produced no usable values.
type DeviceStats struct {
	DeviceType      vitals.DeviceType `json:"deviceType"`
	FirmwareVersion string            `json:"firmwareVersion,omitempty"`
	Metric          vitals.Metric     `json:"metric"`
	TotalSamples    int               `json:"totalSamples"`
	ValidSamples    int               `json:"validSamples"`
	NullSamples     int               `json:"nullSamples"`
	DropRate        float64           `json:"dropRate"`
	Availability    float64           `json:"availability"`
	Summary         *MetricSummary    `json:"-"`
}

// DeviceStatistics computes sample counts and the value distribution for
// one device's readings of metric.
func DeviceStatistics(device vitals.DeviceType, firmware string, metric vitals.Metric, readings []vitals.Reading) DeviceStats {
	ds := DeviceStats{
		DeviceType:      device,
		FirmwareVersion: firmware,
		Metric:          metric,
		TotalSamples:    len(readings),
	}
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		if v, ok := r.Float(); ok {
			values = append(values, v)
		}
	}
	ds.ValidSamples = len(values)
	ds.NullSamples = ds.TotalSamples - ds.ValidSamples
	if ds.TotalSamples > 0 {
		ds.DropRate = float64(ds.NullSamples) / float64(ds.TotalSamples)
		ds.Availability = float64(ds.ValidSamples) / float64(ds.TotalSamples)
	}
	if len(values) == 0 {
		return ds
	}

	s := &MetricSummary{Min: values[0], Max: values[0]}
	for _, v := range values[1:] {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Avg = mean(values)
	s.Median = median(values)
	s.StdDev = popStdDev(values)
	s.Range = s.Max - s.Min
	ds.Summary = s
	return ds
}

type deviceStatsJSON DeviceStats

func (ds DeviceStats) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(deviceStatsJSON(ds))
	if err != nil {
		return nil, err
	}
	if ds.Summary == nil {
		return base, nil
	}
	summary, err := json.Marshal(ds.Summary)
	if err != nil {
		return nil, err
	}
	key, err := json.Marshal(ds.Metric.Key())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(base)+len(key)+len(summary)+2)
	out = append(out, base[:len(base)-1]...)
	out = append(out, ',')
	out = append(out, key...)
	out = append(out, ':')
	out = append(out, summary...)
	out = append(out, '}')
	return out, nil
}

func (ds *DeviceStats) UnmarshalJSON(data []byte) error {
	var base deviceStatsJSON
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	*ds = DeviceStats(base)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	raw, ok := fields[ds.Metric.Key()]
	if !ok || string(raw) == "null" {
		return nil
	}
	ds.Summary = &MetricSummary{}
	if err := json.Unmarshal(raw, ds.Summary); err != nil {
		return fmt.Errorf("device stats %s: %w", ds.Metric.Key(), err)
	}
	return nil
}
