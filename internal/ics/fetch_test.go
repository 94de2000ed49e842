package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcalsync/internal/daterange"
	"gcalsync/internal/model"
)

func TestFetchConditional(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(sampleFeed)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), t.TempDir())
	ctx := context.Background()

	feed, err := f.Fetch(ctx, srv.URL+"/private/basic.ics")
	require.NoError(t, err)
	assert.False(t, feed.NotModified)
	assert.False(t, feed.FromCache)
	assert.Equal(t, sampleFeed, feed.Body)

	feed, err = f.Fetch(ctx, srv.URL+"/private/basic.ics")
	require.NoError(t, err)
	assert.True(t, feed.NotModified)
	assert.Equal(t, sampleFeed, feed.Body)

	fail.Store(true)
	feed, err = f.Fetch(ctx, srv.URL+"/private/basic.ics")
	require.NoError(t, err)
	assert.True(t, feed.FromCache)
	assert.False(t, feed.NotModified)
	assert.Equal(t, sampleFeed, feed.Body)

	_, err = f.Fetch(ctx, srv.URL+"/never-seen.ics")
	assert.Error(t, err)
	assert.Equal(t, int32(4), hits.Load())
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/ical/alice/private-abc/basic.ics?x=1"))
	assert.Equal(t, "(redacted)", redactURL("not a url"))
}

func TestGatewayQueryFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(sampleFeed)
	}))
	defer srv.Close()

	g := NewGateway(NewFetcher(srv.Client(), t.TempDir()))
	user := model.User{Email: "alice@example.com", FeedURL: srv.URL + "/basic.ics"}
	window := daterange.New(time.Date(2008, 4, 21, 0, 0, 0, 0, time.UTC), time.Date(2008, 4, 28, 0, 0, 0, 0, time.UTC))

	events, err := g.QueryFeed(context.Background(), user, window)
	require.NoError(t, err)

	var uids []string
	for _, ev := range events {
		uids = append(uids, ev.UID)
	}
	assert.Equal(t, []string{"meeting-1", "holiday", "cancelled"}, uids)
	assert.Equal(t, model.EventStatusCancelled, events[2].Status)

	_, err = g.QueryFeed(context.Background(), model.User{Email: "bob@example.com"}, window)
	assert.Error(t, err)
}
