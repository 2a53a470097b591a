package parse

import (
	"fmt"
	"sort"
	"strings"

	"github.com/luna-labs/accuracy.report/internal/timeutil"
)

// Format tags a supported export layout.
type Format string

const (
	FormatLunaHR   Format = "luna-hr"
	FormatLunaSpO2 Format = "luna-spo2"
	FormatMasimo   Format = "masimo"
	FormatPolar    Format = "polar"
)

// Formats lists every supported format.
var Formats = []Format{FormatLunaHR, FormatLunaSpO2, FormatMasimo, FormatPolar}

// ParseFormat resolves a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, f := range Formats {
		if needle == string(f) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Registry maps formats to configured parsers.
type Registry struct {
	parsers map[Format]Parser
}

// NewRegistry builds a registry with every built-in parser configured from
// cfg. clock supplies "today" for Luna HR files whose name carries no date;
// nil means the real clock.
func NewRegistry(cfg ClockConfig, clock timeutil.Clock) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Registry{parsers: make(map[Format]Parser)}
	r.Register(&LunaHRParser{Clock: cfg, Now: clock})
	r.Register(&LunaSpO2Parser{Clock: cfg})
	r.Register(&MasimoParser{Clock: cfg})
	r.Register(&PolarParser{Clock: cfg})
	return r
}

// Register adds or replaces the parser for p.Format().
func (r *Registry) Register(p Parser) {
	r.parsers[p.Format()] = p
}

// Lookup returns the parser for f.
func (r *Registry) Lookup(f Format) (Parser, error) {
	p, ok := r.parsers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	return p, nil
}

// Formats returns the registered formats in sorted order.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
