package frame

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/beekhof/calendar-datasource/internal/calendar"
)

const productID = "-//Calendar Datasource//EN"

// ICS converts normalized events into an iCalendar document.
// All-day events keep their date form; timed events use the normalized times.
func ICS(events []calendar.NormalizedEvent, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for i, ev := range events {
		vevent := ical.NewComponent(ical.CompEvent)

		uid := fmt.Sprintf("%d-%d@calendar-datasource", ev.StartTime.Unix(), i)
		if ev.Raw != nil && ev.Raw.Id != "" {
			uid = ev.Raw.Id
		}
		vevent.Props.SetText(ical.PropUID, uid)
		vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

		if ev.Summary != "" {
			vevent.Props.SetText(ical.PropSummary, ev.Summary)
		}
		if ev.Description != "" {
			vevent.Props.SetText(ical.PropDescription, ev.Description)
		}
		if ev.Raw != nil && ev.Raw.Organizer != nil && ev.Raw.Organizer.Email != "" {
			organizer := ical.NewProp(ical.PropOrganizer)
			organizer.Value = "mailto:" + ev.Raw.Organizer.Email
			if ev.OrganizerDisplayName != "" {
				organizer.Params.Set(ical.ParamCommonName, ev.OrganizerDisplayName)
			}
			vevent.Props.Set(organizer)
		}

		setTime(vevent, ical.PropDateTimeStart, ev.Start, ev.StartTime)
		setTime(vevent, ical.PropDateTimeEnd, ev.End, ev.EndTime)

		cal.Children = append(cal.Children, vevent)
	}
	return cal
}

func setTime(vevent *ical.Component, name string, spec calendar.TimeSpec, t time.Time) {
	if spec.Kind == calendar.DateOnly {
		// The raw value is a plain calendar day.
		if day, err := time.Parse("2006-01-02", spec.Value); err == nil {
			prop := ical.NewProp(name)
			prop.SetDate(day)
			vevent.Props.Set(prop)
			return
		}
	}
	vevent.Props.SetDateTime(name, t.UTC())
}

// WriteICS encodes events as an iCalendar stream.
func WriteICS(w io.Writer, events []calendar.NormalizedEvent, now time.Time) error {
	if err := ical.NewEncoder(w).Encode(ICS(events, now)); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}
