package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// MaxResults is the hard cap on events returned by a single list call.
	// Events beyond it are not fetched; there is no pagination.
	MaxResults = 250

	// OrderByStartTime is the only ordering the datasource asks for.
	OrderByStartTime = "startTime"
)

// Query is a single events.list request against one calendar.
type Query struct {
	CalendarID string
	TimeMin    time.Time
	TimeMax    time.Time
	OrderBy    string
	Filter     string
	MaxResults int
}

// NewQuery builds a Query with the fixed ordering and result cap.
func NewQuery(calendarID string, timeMin, timeMax time.Time, filter string) Query {
	return Query{
		CalendarID: calendarID,
		TimeMin:    timeMin,
		TimeMax:    timeMax,
		OrderBy:    OrderByStartTime,
		Filter:     filter,
		MaxResults: MaxResults,
	}
}

// EventLister lists raw events for a query.
// The datasource depends on this rather than on *Client so tests can swap it out.
type EventLister interface {
	ListEvents(ctx context.Context, q Query) ([]*gcal.Event, error)
}

// Client is a wrapper around the Google Calendar API service.
type Client struct {
	service *gcal.Service
}

// NewClient creates a new Google Calendar API client using the provided HTTP client.
// Extra options are appended after the HTTP client, which is how tests point it at a fake endpoint.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service}, nil
}

// ListEvents performs exactly one events.list call for q.
// Recurring events are expanded (singleEvents=true) and deleted events are hidden.
func (c *Client) ListEvents(ctx context.Context, q Query) ([]*gcal.Event, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 || maxResults > MaxResults {
		maxResults = MaxResults
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = OrderByStartTime
	}

	call := c.service.Events.List(q.CalendarID).
		TimeMin(q.TimeMin.Format(time.RFC3339)).
		TimeMax(q.TimeMax.Format(time.RFC3339)).
		OrderBy(orderBy).
		ShowDeleted(false).
		SingleEvents(true).
		MaxResults(int64(maxResults))
	if q.Filter != "" {
		call = call.Q(q.Filter)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, newRemoteAPIError(q.CalendarID, err)
	}

	return events.Items, nil
}

func newRemoteAPIError(calendarID string, err error) *RemoteAPIError {
	rerr := &RemoteAPIError{CalendarID: calendarID, Err: err}
	var ae *googleapi.Error
	if errors.As(err, &ae) {
		rerr.StatusCode = ae.Code
		rerr.Message = ae.Message
	}
	return rerr
}
