package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FilterKind tags the variant carried by a Filter.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterInterval
	FilterDuration
	FilterKeyword
	FilterStream
)

// Filter narrows what a producer emits. It crosses the job-script
// boundary as a one-line TOML fragment, so it round-trips through
// String and ParseFilter.
type Filter struct {
	Kind FilterKind

	// Interval
	Begin time.Time
	End   time.Time

	// Duration in seconds, negative means into the past.
	Duration int

	// Keyword
	Name  string
	Value string

	// Stream window: go back From seconds, run for StreamDuration
	// seconds (0 = until cancelled), poll every Delay milliseconds.
	From           int
	StreamDuration int
	Delay          int
}

// Since builds a duration filter, negative values go into the past.
func Since(seconds int) Filter {
	return Filter{Kind: FilterDuration, Duration: seconds}
}

// Between builds an interval filter over UTC instants.
func Between(begin, end time.Time) Filter {
	return Filter{Kind: FilterInterval, Begin: begin.UTC(), End: end.UTC()}
}

// Keyword builds a name=value filter.
func Keyword(name, value string) Filter {
	return Filter{Kind: FilterKeyword, Name: name, Value: value}
}

// StreamWindow builds a stream filter.
func StreamWindow(from, duration, delay int) Filter {
	return Filter{Kind: FilterStream, From: from, StreamDuration: duration, Delay: delay}
}

// String renders the canonical TOML fragment for this filter. A None
// filter renders as the empty string.
func (f Filter) String() string {
	switch f.Kind {
	case FilterInterval:
		return fmt.Sprintf("Interval = { begin = %s, end = %s }",
			f.Begin.UTC().Format(time.RFC3339), f.End.UTC().Format(time.RFC3339))
	case FilterDuration:
		return fmt.Sprintf("Duration = %d", f.Duration)
	case FilterKeyword:
		return fmt.Sprintf("Keyword = { name = %q, value = %q }", f.Name, f.Value)
	case FilterStream:
		return fmt.Sprintf("Stream = { from = %d, duration = %d, delay = %d }",
			f.From, f.StreamDuration, f.Delay)
	default:
		return ""
	}
}

type intervalDoc struct {
	Begin time.Time `toml:"begin"`
	End   time.Time `toml:"end"`
}

type keywordDoc struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type streamDoc struct {
	From     int `toml:"from"`
	Duration int `toml:"duration"`
	Delay    int `toml:"delay"`
}

type filterDoc struct {
	Interval *intervalDoc `toml:"Interval"`
	Duration *int         `toml:"Duration"`
	Keyword  *keywordDoc  `toml:"Keyword"`
	Stream   *streamDoc   `toml:"Stream"`
}

// ParseFilter is the inverse of String. Unknown or empty input yields
// the None filter without error; malformed TOML is an error.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" {
		return Filter{}, nil
	}
	var doc filterDoc
	if err := toml.Unmarshal([]byte(s), &doc); err != nil {
		return Filter{}, fmt.Errorf("parse filter %q: %w", s, err)
	}
	return doc.filter(), nil
}

// FilterFromMap decodes a filter from an already-decoded TOML inline
// table, as found in job producer arguments.
func FilterFromMap(m map[string]any) (Filter, error) {
	if len(m) == 0 {
		return Filter{}, nil
	}
	raw, err := toml.Marshal(m)
	if err != nil {
		return Filter{}, fmt.Errorf("encode filter block: %w", err)
	}
	var doc filterDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return Filter{}, fmt.Errorf("decode filter block: %w", err)
	}
	return doc.filter(), nil
}

func (d *filterDoc) filter() Filter {
	switch {
	case d.Interval != nil:
		return Between(d.Interval.Begin, d.Interval.End)
	case d.Duration != nil:
		return Since(*d.Duration)
	case d.Keyword != nil:
		return Keyword(d.Keyword.Name, d.Keyword.Value)
	case d.Stream != nil:
		return StreamWindow(d.Stream.From, d.Stream.Duration, d.Stream.Delay)
	default:
		return Filter{}
	}
}
