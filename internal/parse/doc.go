// Package parse turns raw vendor exports into normalized one-second
// readings.
//
// Each supported export format has one Parser registered under a Format
// tag. Parsers never fail on individual rows: malformed, out-of-range and
// out-of-window rows are skipped and counted in Stats. A *ParseError is
// returned only when the file's structure is unrecognizable (no timestamp
// column, no data-section marker, no recording start time).
//
// Formats that sample faster than 1 Hz are folded into one value per whole
// second before emission, so a parse result never holds two readings for
// the same device and second.
package parse
