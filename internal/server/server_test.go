package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/calendar-datasource/internal/auth"
	"github.com/beekhof/calendar-datasource/internal/calendar"
	"github.com/beekhof/calendar-datasource/internal/datasource"
	"github.com/beekhof/calendar-datasource/internal/directive"
	"github.com/beekhof/calendar-datasource/internal/frame"
)

type mockService struct {
	QueryFunc           func(ctx context.Context, req datasource.QueryRequest) (*datasource.QueryResponse, error)
	MetricFindQueryFunc func(ctx context.Context, query string, opts datasource.VariableOptions) ([]frame.MetricFindValue, error)
	CheckHealthFunc     func(ctx context.Context) datasource.HealthResult
	EventsFunc          func(ctx context.Context, calendarID string, tr datasource.TimeRange) ([]calendar.NormalizedEvent, error)
}

func (m *mockService) Query(ctx context.Context, req datasource.QueryRequest) (*datasource.QueryResponse, error) {
	return m.QueryFunc(ctx, req)
}

func (m *mockService) MetricFindQuery(ctx context.Context, query string, opts datasource.VariableOptions) ([]frame.MetricFindValue, error) {
	return m.MetricFindQueryFunc(ctx, query, opts)
}

func (m *mockService) CheckHealth(ctx context.Context) datasource.HealthResult {
	return m.CheckHealthFunc(ctx)
}

func (m *mockService) Events(ctx context.Context, calendarID string, tr datasource.TimeRange) ([]calendar.NormalizedEvent, error) {
	return m.EventsFunc(ctx, calendarID, tr)
}

func (m *mockService) Now() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	svc := &mockService{QueryFunc: func(ctx context.Context, req datasource.QueryRequest) (*datasource.QueryResponse, error) {
		require.Len(t, req.Targets, 2)
		assert.Equal(t, "A", req.Targets[0].RefID)
		assert.True(t, req.Targets[1].Hide)
		assert.Equal(t, int64(1704067200000), req.Range.From.UnixMilli())
		assert.Equal(t, int64(1704153600000), req.Range.To.UnixMilli())
		return &datasource.QueryResponse{Data: []*frame.Frame{frame.NewEventFrame("A")}}, nil
	}}
	srv := New(svc, nil)

	rec := do(t, srv, http.MethodPost, "/query", `{
		"targets": [{"refId": "A", "calendarId": "primary"}, {"refId": "B", "calendarId": "x", "hide": true}],
		"range": {"from": 1704067200000, "to": 1704153600000}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			RefID  string `json:"refId"`
			Fields []struct {
				Name string `json:"name"`
			} `json:"fields"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "A", resp.Data[0].RefID)
	assert.Len(t, resp.Data[0].Fields, 5)
}

func TestQueryEndpoint_BadBody(t *testing.T) {
	rec := do(t, New(&mockService{}, nil), http.MethodPost, "/query", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to decode query request")
}

func TestVariableEndpoint(t *testing.T) {
	svc := &mockService{MetricFindQueryFunc: func(ctx context.Context, query string, opts datasource.VariableOptions) ([]frame.MetricFindValue, error) {
		assert.Equal(t, "events(summary, standup)", query)
		assert.Equal(t, "team", opts.DefaultCalendarID)
		return []frame.MetricFindValue{{Text: "Standup"}}, nil
	}}

	rec := do(t, New(svc, nil), http.MethodPost, "/variable",
		`{"query": "events(summary, standup)", "calendarId": "team", "range": {"from": 0, "to": 1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"text":"Standup"}]`, rec.Body.String())
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&directive.InvalidDirectiveError{Query: "nope"}, http.StatusBadRequest},
		{&auth.AuthenticationError{Payload: "access_denied"}, http.StatusUnauthorized},
		{&calendar.RemoteAPIError{StatusCode: 404, Message: "Not Found"}, http.StatusBadGateway},
		{&calendar.MalformedTimeError{Value: "x"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			svc := &mockService{MetricFindQueryFunc: func(ctx context.Context, query string, opts datasource.VariableOptions) ([]frame.MetricFindValue, error) {
				return nil, tc.err
			}}
			rec := do(t, New(svc, nil), http.MethodPost, "/variable", `{"query": "q"}`)
			assert.Equal(t, tc.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	result := datasource.HealthResult{Status: datasource.HealthOK, Message: "Data source is working"}
	svc := &mockService{CheckHealthFunc: func(ctx context.Context) datasource.HealthResult { return result }}
	srv := New(svc, nil)

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","message":"Data source is working"}`, rec.Body.String())

	result = datasource.HealthResult{Status: datasource.HealthError, Message: "authentication failed: popup_closed"}
	rec = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := &mockService{EventsFunc: func(ctx context.Context, calendarID string, tr datasource.TimeRange) ([]calendar.NormalizedEvent, error) {
		assert.Equal(t, "team", calendarID)
		assert.Equal(t, int64(1704067200000), tr.From.UnixMilli())
		return []calendar.NormalizedEvent{{
			Event:     calendar.Event{Summary: "Standup"},
			StartTime: start,
			EndTime:   start.Add(15 * time.Minute),
		}}, nil
	}}

	rec := do(t, New(svc, nil), http.MethodGet, "/export.ics?calendarId=team&from=1704067200000&to=1704153600000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))

	cal, err := ical.NewDecoder(rec.Body).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	summary, err := events[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Standup", summary)
}

func TestExportEndpoint_MissingRange(t *testing.T) {
	rec := do(t, New(&mockService{}, nil), http.MethodGet, "/export.ics?calendarId=team", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, New(&mockService{}, nil), http.MethodGet, "/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
