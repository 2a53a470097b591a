package vitals

import (
	"fmt"
	"strings"
)

// Metric identifies the physiological quantity a reading carries.
type Metric string

const (
	MetricHR       Metric = "HR"
	MetricSpO2     Metric = "SPO2"
	MetricSleep    Metric = "Sleep"
	MetricCalories Metric = "Calories"
	MetricSteps    Metric = "Steps"
)

// Metrics lists every supported metric in display order.
var Metrics = []Metric{MetricHR, MetricSpO2, MetricSleep, MetricCalories, MetricSteps}

// ParseMetric accepts either the metric tag ("HR") or its payload key
// ("heartRate"), case-insensitively.
func ParseMetric(s string) (Metric, error) {
	needle := strings.TrimSpace(s)
	for _, m := range Metrics {
		if strings.EqualFold(needle, string(m)) || strings.EqualFold(needle, m.Key()) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Key returns the name the metric is stored under in serialized payloads.
func (m Metric) Key() string {
	switch m {
	case MetricHR:
		return "heartRate"
	case MetricSpO2:
		return "spo2"
	case MetricSleep:
		return "sleep"
	case MetricCalories:
		return "calories"
	case MetricSteps:
		return "steps"
	default:
		return strings.ToLower(string(m))
	}
}

// Unit is the native unit MAE, RMSE and bias are expressed in.
func (m Metric) Unit() string {
	switch m {
	case MetricHR:
		return "bpm"
	case MetricSpO2:
		return "%"
	case MetricCalories:
		return "kcal"
	case MetricSteps:
		return "steps"
	case MetricSleep:
		return "min"
	default:
		return ""
	}
}

// Valid reports whether m is one of the known metrics.
func (m Metric) Valid() bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

// DeviceType tags the physical device a reading came from.
type DeviceType string

const (
	// DeviceLuna is the device under test. Pairwise comparisons always
	// place it on the d1 side.
	DeviceLuna   DeviceType = "luna"
	DevicePolar  DeviceType = "polar"
	DeviceMasimo DeviceType = "masimo"
)

// IsBenchmark reports whether d is a reference device rather than the
// device under test.
func (d DeviceType) IsBenchmark() bool {
	return d != DeviceLuna && d != ""
}
