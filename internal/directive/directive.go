// Package directive parses the variable-query mini-language:
//
//	events([calendarId,] fieldPath, filter)
//	start([calendarId,] format, offset, filter)
//	end([calendarId,] format, offset, filter)
//	range([calendarId,] format, offset, filter)
//
// Arguments are separated by commas and may not contain one. Spaces
// following a comma are dropped. The last argument runs up to the last
// ")" before the next comma, and anything after that ")" is ignored.
package directive

import "fmt"

// Kind is the leading keyword of a directive.
type Kind string

const (
	KindEvents Kind = "events"
	KindStart  Kind = "start"
	KindEnd    Kind = "end"
	KindRange  Kind = "range"
)

// Offset formats. Any other format is a strftime pattern for start/end
// and unsupported for range.
const (
	FormatOffset        = "offset"
	FormatNegatedOffset = "-offset"
)

// Directive is a parsed variable query.
type Directive struct {
	Kind Kind

	// CalendarID is empty when the query omitted it.
	CalendarID string

	// FieldPath is set for KindEvents.
	FieldPath string

	// Format and Offset are set for KindStart, KindEnd and KindRange.
	Format string
	Offset int

	Filter string
}

// IsOffsetFormat reports whether Format asks for a seconds offset rather than a date pattern.
func (d Directive) IsOffsetFormat() bool {
	return d.Format == FormatOffset || d.Format == FormatNegatedOffset
}

// Index is the position of the selected event in the ascending start-time
// list. It is computed as 0 - Offset, so only offset 0 ever selects an
// event (the earliest one); positive offsets fall before the list and yield
// no result. Dashboards rely on this arithmetic so it is kept literal.
func (d Directive) Index() int {
	const first = 0
	return first - d.Offset
}

// InvalidDirectiveError is returned when a query matches none of the
// directive shapes.
type InvalidDirectiveError struct {
	Query  string
	Reason string
}

func (e *InvalidDirectiveError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid query %q", e.Query)
	}
	return fmt.Sprintf("invalid query %q: %s", e.Query, e.Reason)
}
