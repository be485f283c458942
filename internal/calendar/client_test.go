package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestListEvents_RequestParameters(t *testing.T) {
	timeMin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	timeMax := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/team@example.com/events", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "2024-01-08T00:00:00Z", q.Get("timeMax"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "false", q.Get("showDeleted"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "250", q.Get("maxResults"))
		assert.Equal(t, "standup", q.Get("q"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"summary":"Standup","start":{"dateTime":"2024-01-02T09:00:00Z"},"end":{"dateTime":"2024-01-02T09:15:00Z"},
			 "organizer":{"displayName":"Ops"}},
			{"summary":"Holiday","start":{"date":"2024-01-03"},"end":{"date":"2024-01-04"}}
		]}`))
	})

	events, err := client.ListEvents(context.Background(), NewQuery("team@example.com", timeMin, timeMax, "standup"))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Summary)
	assert.Equal(t, "Ops", events[0].Organizer.DisplayName)
	assert.Equal(t, "2024-01-03", events[1].Start.Date)
}

func TestListEvents_NoFilterOmitsQ(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.URL.Query()["q"]
		assert.False(t, ok, "q must not be sent without a filter")
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	events, err := client.ListEvents(context.Background(), NewQuery("primary", time.Now(), time.Now().Add(time.Hour), ""))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListEvents_MaxResultsIsCapped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "250", r.URL.Query().Get("maxResults"))
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	q := NewQuery("primary", time.Now(), time.Now().Add(time.Hour), "")
	q.MaxResults = 1000
	_, err := client.ListEvents(context.Background(), q)
	require.NoError(t, err)
}

func TestListEvents_RemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Forbidden"}}`))
	})

	_, err := client.ListEvents(context.Background(), NewQuery("secret", time.Now(), time.Now().Add(time.Hour), ""))
	require.Error(t, err)

	var rerr *RemoteAPIError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusForbidden, rerr.StatusCode)
	assert.Equal(t, "Forbidden", rerr.Message)
	assert.Equal(t, "secret", rerr.CalendarID)
}
