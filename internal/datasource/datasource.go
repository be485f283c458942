package datasource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/beekhof/calendar-datasource/internal/calendar"
	"github.com/beekhof/calendar-datasource/internal/frame"
)

// Authenticator yields an event lister once authenticated.
// *auth.Session implements it.
type Authenticator interface {
	EnsureReady(ctx context.Context) error
	Lister() (calendar.EventLister, error)
}

// Target is one query of a batch, typically one dashboard panel query.
type Target struct {
	RefID      string `json:"refId"`
	CalendarID string `json:"calendarId"`
	Hide       bool   `json:"hide,omitempty"`
}

// TimeRange is the dashboard time range.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// QueryRequest is a batch of targets sharing one time range.
type QueryRequest struct {
	Targets []Target
	Range   TimeRange
}

// QueryResponse holds one frame per visible target, in target order.
type QueryResponse struct {
	Data []*frame.Frame `json:"data"`
}

// Options configures a DataSource.
type Options struct {
	Auth              Authenticator
	Normalizer        calendar.Normalizer
	DefaultCalendarID string
	Logger            log.Logger

	// Now is used by exports. Defaults to time.Now.
	Now func() time.Time
}

// DataSource answers host queries against the Calendar API.
type DataSource struct {
	auth              Authenticator
	normalizer        calendar.Normalizer
	defaultCalendarID string
	logger            log.Logger
	now               func() time.Time
}

// New creates a DataSource.
func New(opts Options) *DataSource {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DataSource{
		auth:              opts.Auth,
		normalizer:        opts.Normalizer,
		defaultCalendarID: opts.DefaultCalendarID,
		logger:            log.With(logger, "component", "datasource"),
		now:               now,
	}
}

// lister authenticates and returns the event lister.
func (d *DataSource) lister(ctx context.Context) (calendar.EventLister, error) {
	if err := d.auth.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return d.auth.Lister()
}

// Query fetches events for every visible target concurrently and shapes
// each into a frame. A failing target fails the whole batch.
func (d *DataSource) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	lister, err := d.lister(ctx)
	if err != nil {
		return nil, err
	}

	var targets []Target
	for _, t := range req.Targets {
		if t.Hide || t.CalendarID == "" {
			continue
		}
		targets = append(targets, t)
	}

	frames := make([]*frame.Frame, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			events, err := d.sortedEvents(gctx, lister, calendar.NewQuery(t.CalendarID, req.Range.From, req.Range.To, ""))
			if err != nil {
				return fmt.Errorf("target %s: %w", t.RefID, err)
			}
			frames[i] = frame.Shape(t.RefID, events)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		level.Error(d.logger).Log("msg", "query failed", "err", err)
		return nil, err
	}

	level.Debug(d.logger).Log("msg", "query done", "targets", len(targets), "skipped", len(req.Targets)-len(targets))
	return &QueryResponse{Data: frames}, nil
}

// Events returns the normalized events of one calendar, ascending by start.
func (d *DataSource) Events(ctx context.Context, calendarID string, tr TimeRange) ([]calendar.NormalizedEvent, error) {
	lister, err := d.lister(ctx)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = d.defaultCalendarID
	}
	return d.sortedEvents(ctx, lister, calendar.NewQuery(calendarID, tr.From, tr.To, ""))
}

// Now returns the current time as seen by the datasource.
func (d *DataSource) Now() time.Time {
	return d.now()
}

func (d *DataSource) sortedEvents(ctx context.Context, lister calendar.EventLister, q calendar.Query) ([]calendar.NormalizedEvent, error) {
	raw, err := lister.ListEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	events, err := d.normalizer.NormalizeEvents(raw)
	if err != nil {
		return nil, err
	}
	calendar.SortByStart(events)
	return events, nil
}

// HealthStatus is the outcome of CheckHealth.
type HealthStatus string

const (
	HealthOK    HealthStatus = "success"
	HealthError HealthStatus = "error"
)

// HealthResult is what the connectivity check reports to the user.
type HealthResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message"`
}

// CheckHealth runs the full authentication handshake.
func (d *DataSource) CheckHealth(ctx context.Context) HealthResult {
	if err := d.auth.EnsureReady(ctx); err != nil {
		level.Error(d.logger).Log("msg", "health check failed", "err", err)
		return HealthResult{Status: HealthError, Message: err.Error()}
	}
	return HealthResult{Status: HealthOK, Message: "Data source is working"}
}

// Template variables that carry the dashboard range as millisecond epochs.
const (
	VarFrom = "__from"
	VarTo   = "__to"
)

// RangeFromVariables reads the dashboard range from the $__from and $__to template variables.
func RangeFromVariables(vars map[string]string) (TimeRange, error) {
	from, err := epochMillis(vars, VarFrom)
	if err != nil {
		return TimeRange{}, err
	}
	to, err := epochMillis(vars, VarTo)
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{From: from, To: to}, nil
}

func epochMillis(vars map[string]string, name string) (time.Time, error) {
	raw, ok := vars[name]
	if !ok {
		return time.Time{}, errors.New("missing template variable $" + name)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid template variable $%s: %w", name, err)
	}
	return time.UnixMilli(ms), nil
}
