// Package exchange talks WebDAV to an Exchange 2003/2007 server: free/busy
// lookup and publishing in the public folders, and appointment lookup,
// creation and deletion in users' calendar folders.
package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appLog "gcalsync/internal/log"
)

// ErrTransient marks failures worth retrying on the next pass: network
// errors and 5xx answers.
var ErrTransient = errors.New("exchange: transient failure")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("exchange: %s %s: %s", e.Method, e.URL, e.Status)
}

// Is matches ErrTransient for 5xx answers.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransient && e.Code >= 500
}

// Options configures a Client.
type Options struct {
	// ServerURL hosts the users' mailboxes, e.g. "https://mail.example.com".
	ServerURL string

	// FreeBusyServerURL hosts the public folders; ServerURL when empty.
	FreeBusyServerURL string

	// FreeBusyTemplateURL is a free/busy message copied over each user's
	// message before it is rewritten. A path is taken relative to
	// FreeBusyServerURL. Empty skips the copy.
	FreeBusyTemplateURL string

	// Login and Password are sent with NTLM. Login may be "DOMAIN\user".
	Login    string
	Password string

	// RequestsPerSecond limits the request rate; zero means no limit.
	RequestsPerSecond float64

	// RasterLookup reads free/busy through the OWA raster interface instead
	// of the free/busy message properties.
	RasterLookup bool

	// RasterInterval is the raster slot length in minutes.
	RasterInterval int

	// Transport is the underlying round tripper; http.DefaultTransport
	// when nil.
	Transport http.RoundTripper

	Timeout time.Duration
}

// Client implements the engine's free/busy and appointment collaborators.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	newID   func() string
	now     func() time.Time
}

// NewClient trims trailing slashes from the server URLs and fills in
// defaults.
func NewClient(opts Options) *Client {
	opts.ServerURL = strings.TrimRight(opts.ServerURL, "/")
	opts.FreeBusyServerURL = strings.TrimRight(opts.FreeBusyServerURL, "/")
	if opts.FreeBusyServerURL == "" {
		opts.FreeBusyServerURL = opts.ServerURL
	}
	if strings.HasPrefix(opts.FreeBusyTemplateURL, "/") {
		opts.FreeBusyTemplateURL = opts.FreeBusyServerURL + opts.FreeBusyTemplateURL
	}
	if opts.RasterInterval <= 0 {
		opts.RasterInterval = 15
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Login != "" {
		transport = ntlmssp.Negotiator{RoundTripper: transport}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		opts:    opts,
		http:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// do issues one WebDAV request and returns the response body of a 2xx
// answer.
func (c *Client) do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	}
	if c.opts.Login != "" {
		req.SetBasicAuth(c.opts.Login, c.opts.Password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransient, url, err)
	}
	appLog.Debug("webdav request", "method", method, "url", url, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &StatusError{Method: method, URL: url, Code: resp.StatusCode, Status: resp.Status}
	}
	return data, nil
}
