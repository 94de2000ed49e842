package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.ServerURL = srv.URL
	c := NewClient(opts)
	c.newID = func() string { return "0f8fad5b-d9cb-469f-a165-70867728950e" }
	c.now = func() time.Time { return time.Date(2008, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestDoStatusErrors(t *testing.T) {
	code := http.StatusServiceUnavailable
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}, Options{})

	_, err := c.do(context.Background(), http.MethodGet, c.opts.ServerURL+"/x", nil, nil)
	assert.ErrorIs(t, err, ErrTransient)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)

	code = http.StatusForbidden
	_, err = c.do(context.Background(), http.MethodGet, c.opts.ServerURL+"/x", nil, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransient))
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{ServerURL: url})
	_, err := c.do(context.Background(), http.MethodGet, url+"/x", nil, nil)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestDoSendsHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SEARCH", r.Method)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		assert.Equal(t, `text/xml; charset="utf-8"`, r.Header.Get("Content-Type"))
		// Credentials only go out when the server asks for NTLM.
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusMultiStatus)
	}, Options{Login: `EXAMPLE\sync`, Password: "secret"})

	_, err := c.do(context.Background(), "SEARCH", c.opts.ServerURL+"/x", []byte("<a/>"), http.Header{"Depth": {"1"}})
	assert.NoError(t, err)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, Options{RequestsPerSecond: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.do(ctx, http.MethodGet, c.opts.ServerURL, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
