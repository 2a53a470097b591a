package parse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// records iterates CSV records, tolerating ragged rows and stray quotes.
// Malformed records are reported through onBad and skipped; only I/O
// failures and cancellation stop iteration.
type records struct {
	r    *csv.Reader
	rows int
}

func newRecords(r io.Reader) *records {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return &records{r: cr}
}

// next returns the next non-blank record. ok is false at EOF.
func (rs *records) next(ctx context.Context, onBad func()) ([]string, bool, error) {
	for {
		rs.rows++
		if rs.rows%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
		}
		rec, err := rs.r.Read()
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			if onBad != nil {
				onBad()
			}
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read csv: %w", err)
		}
		if blank(rec) {
			continue
		}
		return rec, true, nil
	}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// separatorRow reports "====" divider rows some exports interleave.
func separatorRow(rec []string) bool {
	for _, f := range rec {
		if strings.Contains(f, "====") {
			return true
		}
	}
	return false
}

// normalizeHeader lower-cases and trims a header cell, dropping a BOM.
func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// findColumn returns the first column whose normalized header satisfies
// match, skipping the indexes in exclude.
func findColumn(header []string, match func(string) bool, exclude ...int) int {
next:
	for i, h := range header {
		for _, x := range exclude {
			if i == x {
				continue next
			}
		}
		if match(normalizeHeader(h)) {
			return i
		}
	}
	return -1
}

func containsAny(subs ...string) func(string) bool {
	return func(h string) bool {
		for _, s := range subs {
			if strings.Contains(h, s) {
				return true
			}
		}
		return false
	}
}

// hasToken reports whether h contains tok as a whole alphanumeric word.
func hasToken(h, tok string) bool {
	words := strings.FieldsFunc(h, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if w == tok {
			return true
		}
	}
	return false
}

func field(rec []string, i int) (string, bool) {
	if i < 0 || i >= len(rec) {
		return "", false
	}
	return strings.TrimSpace(rec[i]), true
}
