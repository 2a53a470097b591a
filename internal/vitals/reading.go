package vitals

import "time"

// Reading is one metric sample at one-second resolution for one device in
// one session.
type Reading struct {
	SessionID       string     `json:"sessionId"`
	UserID          string     `json:"userId"`
	DeviceID        string     `json:"deviceId,omitempty"`
	DeviceType      DeviceType `json:"deviceType"`
	FirmwareVersion string     `json:"firmwareVersion,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	Metric          Metric     `json:"metric"`
	Value           *float64   `json:"value"`
	Valid           bool       `json:"isValid"`
}

// Usable reports whether the reading holds a value that statistics and
// matching may consume. Valid is row metadata from the vendor's quality
// signal; a flagged Masimo row keeps its value and stays usable.
func (r Reading) Usable() bool {
	return r.Value != nil
}

// Float returns the reading's value and whether it is usable.
func (r Reading) Float() (float64, bool) {
	if !r.Usable() {
		return 0, false
	}
	return *r.Value, true
}

// TruncateSecond normalizes t to a whole UTC second.
func TruncateSecond(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
