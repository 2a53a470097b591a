// Package analysis computes per-device statistics and device-vs-device
// agreement for one recording session.
//
// All standard deviations are population deviations, so sdDiff on a
// comparison and stdDifference on its Bland-Altman block are the same
// number. Undefined quantities (Pearson r on a constant series, MAPE when
// every reference value is zero) are nil rather than NaN.
package analysis
