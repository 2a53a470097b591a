// Package vitals holds the domain types shared by every stage of the
// accuracy pipeline: metrics, device tags, normalized readings and sessions.
//
// A Reading carries exactly one metric sample. The sample is modelled as the
// pair (Metric, Value) where Value is nil when the device reported nothing
// usable for that second; callers switch on Metric instead of probing a wide
// struct of optional fields.
package vitals
