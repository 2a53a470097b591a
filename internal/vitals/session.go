package vitals

import (
	"fmt"
	"time"
)

// SessionStatus tracks the forward-only session pipeline.
type SessionStatus string

const (
	StatusCreated  SessionStatus = "created"
	StatusIngested SessionStatus = "ingested"
	StatusAnalyzed SessionStatus = "analyzed"
)

// Session is one recording window shared by all devices worn by a user.
type Session struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	ActivityType    string        `json:"activityType"`
	Metric          Metric        `json:"metric"`
	FirmwareVersion string        `json:"firmwareVersion,omitempty"`
	BandPosition    string        `json:"bandPosition,omitempty"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Validate checks the fields every later stage relies on.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("session %s: user id is required", s.ID)
	}
	if !s.Metric.Valid() {
		return fmt.Errorf("session %s: unknown metric %q", s.ID, s.Metric)
	}
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return fmt.Errorf("session %s: start and end time are required", s.ID)
	}
	if s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("session %s: end time %s precedes start time %s",
			s.ID, s.EndTime.Format(time.RFC3339), s.StartTime.Format(time.RFC3339))
	}
	return nil
}

// Day returns the UTC calendar date the session started on (YYYY-MM-DD).
func (s Session) Day() string {
	return s.StartTime.UTC().Format("2006-01-02")
}
