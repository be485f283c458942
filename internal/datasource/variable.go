package datasource

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/lestrrat-go/strftime"

	"github.com/beekhof/calendar-datasource/internal/calendar"
	"github.com/beekhof/calendar-datasource/internal/directive"
	"github.com/beekhof/calendar-datasource/internal/frame"
)

// VariableOptions carries what a variable query needs besides its text.
type VariableOptions struct {
	// Range is the dashboard range; see RangeFromVariables.
	Range TimeRange

	// DefaultCalendarID overrides the datasource default for queries
	// that omit a calendar id.
	DefaultCalendarID string
}

// MetricFindQuery evaluates a template-variable query such as
// "events(team@example.com, organizer.displayName, standup)".
func (d *DataSource) MetricFindQuery(ctx context.Context, query string, opts VariableOptions) ([]frame.MetricFindValue, error) {
	dir, err := directive.Parse(query)
	if err != nil {
		return nil, err
	}

	lister, err := d.lister(ctx)
	if err != nil {
		return nil, err
	}

	calendarID := dir.CalendarID
	if calendarID == "" {
		calendarID = opts.DefaultCalendarID
	}
	if calendarID == "" {
		calendarID = d.defaultCalendarID
	}
	q := calendar.NewQuery(calendarID, opts.Range.From, opts.Range.To, dir.Filter)

	level.Debug(d.logger).Log("msg", "variable query", "kind", dir.Kind, "calendar", calendarID)

	if dir.Kind == directive.KindEvents {
		raw, err := lister.ListEvents(ctx, q)
		if err != nil {
			return nil, err
		}
		values, err := frame.Lookup(raw, dir.FieldPath)
		if err != nil {
			return nil, &directive.InvalidDirectiveError{Query: query, Reason: err.Error()}
		}
		return values, nil
	}

	events, err := d.sortedEvents(ctx, lister, q)
	if err != nil {
		return nil, err
	}

	index := dir.Index()
	if index < 0 || index >= len(events) {
		return []frame.MetricFindValue{}, nil
	}
	ev := events[index]

	var text string
	switch dir.Kind {
	case directive.KindStart, directive.KindEnd:
		t := ev.StartTime
		if dir.Kind == directive.KindEnd {
			t = ev.EndTime
		}
		text, err = formatTime(dir, t, opts.Range.To)
		if err != nil {
			return nil, &directive.InvalidDirectiveError{Query: query, Reason: err.Error()}
		}
	case directive.KindRange:
		if !dir.IsOffsetFormat() {
			// Only offset formats are defined for a duration.
			return []frame.MetricFindValue{}, nil
		}
		text = offsetText(dir.Format, ev.EndTime.Sub(ev.StartTime))
	}

	return []frame.MetricFindValue{{Text: text}}, nil
}

// formatTime renders an event time for start/end directives: either its
// offset from the end of the dashboard range, or a strftime pattern.
func formatTime(dir directive.Directive, t, rangeTo time.Time) (string, error) {
	if dir.IsOffsetFormat() {
		return offsetText(dir.Format, rangeTo.Sub(t)), nil
	}
	return strftime.Format(dir.Format, t)
}

// offsetText floors d to whole seconds, negates it for the "offset" format
// and appends the "s" unit.
func offsetText(format string, d time.Duration) string {
	secs := floorSeconds(d)
	if format == directive.FormatOffset {
		secs = -secs
	}
	return strconv.FormatInt(secs, 10) + "s"
}

func floorSeconds(d time.Duration) int64 {
	ms := d.Milliseconds()
	secs := ms / 1000
	if ms%1000 < 0 {
		secs--
	}
	return secs
}
