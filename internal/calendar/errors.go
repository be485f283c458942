package calendar

import "fmt"

// RemoteAPIError is returned when the Calendar API answers a list call with
// anything but success. StatusCode and Message are copied from the provider
// unchanged; StatusCode is zero when the request never got a response.
type RemoteAPIError struct {
	CalendarID string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to list events for calendar %q: HTTP %d: %s", e.CalendarID, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("failed to list events for calendar %q: %v", e.CalendarID, e.Err)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// MalformedTimeError is returned when an event time carries neither a
// dateTime nor a date, or when the value cannot be parsed.
type MalformedTimeError struct {
	Value  string
	Reason string
}

func (e *MalformedTimeError) Error() string {
	if e.Value == "" {
		return "invalid time format: " + e.Reason
	}
	return fmt.Sprintf("invalid time format %q: %s", e.Value, e.Reason)
}
