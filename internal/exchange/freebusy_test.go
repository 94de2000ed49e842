package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	"gcalsync/internal/model"
)

var alice = model.User{
	Email:            "alice@example.com",
	LegacyExchangeDN: "/o=Example/ou=First Administrative Group/cn=Recipients/cn=alice",
}

func may(d, hh, mm int) time.Time {
	return time.Date(2008, time.May, d, hh, mm, 0, 0, time.UTC)
}

func TestFetchRaster(t *testing.T) {
	window := daterange.New(may(1, 10, 7), may(1, 12, 0))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "freebusy", q.Get("cmd"))
		assert.Equal(t, "15", q.Get("interval"))
		assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, q["u"])

		fmt.Fprint(w, `<?xml version="1.0"?>
<a:response xmlns:a="WM">
  <a:recipients>
    <a:item><a:displayname>Alice</a:displayname><a:email type="SMTP">Alice@Example.com</a:email><a:fbdata>0220</a:fbdata></a:item>
    <a:item><a:email type="SMTP">bob@example.com</a:email><a:fbdata>1000</a:fbdata></a:item>
  </a:recipients>
</a:response>`)
	}, Options{RasterLookup: true})

	got, err := c.FetchRaster(context.Background(), []model.User{alice, {Email: "bob@example.com"}}, window)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Slots start on the boundary after the window start.
	busy := []daterange.Range{daterange.New(may(1, 10, 30), may(1, 11, 0))}
	assert.Equal(t, busy, got["alice@example.com"].Busy)
	assert.Equal(t, busy, got["alice@example.com"].All)
	assert.Equal(t, []daterange.Range{daterange.New(may(1, 10, 15), may(1, 10, 30))}, got["bob@example.com"].Tentative)

	fb, err := c.FetchFreeBusy(context.Background(), alice, window)
	require.NoError(t, err)
	assert.Equal(t, busy, fb.Busy)
}

func TestFetchRasterMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<a:response xmlns:a=")
	}, Options{RasterLookup: true})

	_, err := c.FetchFreeBusy(context.Background(), alice, daterange.New(may(1, 0, 0), may(2, 0, 0)))
	assert.ErrorIs(t, err, freebusy.ErrMalformedData)
}

func freeBusyAnswer(t *testing.T, busy, tentative []daterange.Range) string {
	t.Helper()
	section := func(months, events prop, ranges []daterange.Range) string {
		keys, blocks, err := freebusy.EncodeRanges(may(1, 0, 0), may(31, 0, 0), ranges)
		require.NoError(t, err)
		var m, e strings.Builder
		for i := range keys {
			if blocks[i] == "" {
				continue
			}
			fmt.Fprintf(&m, "<c:v>%d</c:v>", keys[i])
			fmt.Fprintf(&e, "<c:v>%s</c:v>", blocks[i])
		}
		return fmt.Sprintf(`<d:%s b:dt="mv.int">%s</d:%s><d:%s b:dt="mv.bin.base64">%s</d:%s>`,
			months.name, m.String(), months.name, events.name, e.String(), events.name)
	}

	return `<?xml version="1.0"?>
<a:multistatus xmlns:a="DAV:" xmlns:b="urn:uuid:c2f41010-65b3-11d1-a29f-00aa00c14882/" xmlns:c="xml:" xmlns:d="http://schemas.microsoft.com/mapi/proptag/">
<a:response><a:href>x</a:href><a:propstat><a:status>HTTP/1.1 200 OK</a:status><a:prop>` +
		section(propBusyMonths, propBusyEvents, busy) +
		section(propTentativeMonths, propTentativeEvents, tentative) +
		`</a:prop></a:propstat></a:response></a:multistatus>`
}

func TestFetchFreeBusyMessage(t *testing.T) {
	busy := []daterange.Range{daterange.New(may(1, 10, 0), may(1, 11, 0)), daterange.New(may(2, 9, 0), may(2, 9, 30))}
	tentative := []daterange.Range{daterange.New(may(3, 14, 0), may(3, 15, 0))}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "0", r.Header.Get("Depth"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/USER-_xF8FF_cn=Recipients_xF8FF_cn=alice.EML"), r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "d:x68531003")
		assert.Contains(t, string(body), "d:x68561102")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, freeBusyAnswer(t, busy, tentative))
	}, Options{})

	fb, err := c.FetchFreeBusy(context.Background(), alice, daterange.New(may(1, 0, 0), may(31, 0, 0)))
	require.NoError(t, err)
	assert.ElementsMatch(t, busy, fb.Busy)
	assert.Equal(t, tentative, fb.Tentative)
	assert.Empty(t, fb.OutOfOffice)
	assert.ElementsMatch(t, append(busy, tentative...), fb.All)
}

func TestFetchFreeBusyMessageErrors(t *testing.T) {
	answer := ""
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, answer)
	}, Options{})
	window := daterange.New(may(1, 0, 0), may(31, 0, 0))

	answer = `<a:multistatus xmlns:a="DAV:"/>`
	_, err := c.FetchFreeBusy(context.Background(), alice, window)
	assert.ErrorIs(t, err, freebusy.ErrMalformedData)

	answer = `<a:multistatus xmlns:a="DAV:" xmlns:c="xml:" xmlns:d="http://schemas.microsoft.com/mapi/proptag/">
<a:response><a:propstat><a:prop><d:x68531003><c:v>may</c:v></d:x68531003></a:prop></a:propstat></a:response></a:multistatus>`
	_, err = c.FetchFreeBusy(context.Background(), alice, window)
	assert.ErrorIs(t, err, freebusy.ErrMalformedData)

	_, err = c.FetchFreeBusy(context.Background(), model.User{Email: "x@example.com", LegacyExchangeDN: "/o=Example"}, window)
	assert.Error(t, err)
}

func parseUpdate(t *testing.T, body []byte) (set, remove *etree.Element) {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(body))
	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, "propertyupdate", root.Tag)
	return child(child(root, prop{nsDAV, "set"}), prop{nsDAV, "prop"}),
		child(child(root, prop{nsDAV, "remove"}), prop{nsDAV, "prop"})
}

func TestWriteFreeBusy(t *testing.T) {
	keys := []int{2008*16 + 4, 2008*16 + 5, 2008*16 + 6}
	blocks := []string{"", "WAKhBQ==", ""}

	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPPATCH", r.Method)
		assert.Equal(t, "t", r.Header.Get("Brief"))
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusMultiStatus)
	}, Options{})

	user := alice
	user.FreeBusyCommonName = "USER-/CN=RECIPIENTS/CN=ALICE"
	require.NoError(t, c.WriteFreeBusy(context.Background(), user, keys, blocks, 213000, 256000))

	set, remove := parseUpdate(t, body)
	require.NotNil(t, set)
	require.NotNil(t, remove)

	assert.Equal(t, []string{"32133"}, multiValues(set, propBusyMonths))
	assert.Equal(t, []string{"WAKhBQ=="}, multiValues(set, propBusyEvents))
	assert.Equal(t, []string{"32133"}, multiValues(set, propMergedMonths))
	assert.Equal(t, "mv.int", child(set, propBusyMonths).SelectAttrValue("b:dt", ""))

	for p, want := range map[prop]string{
		propPublishedStart:    "213000",
		propPublishedEnd:      "256000",
		propResourceType:      "0",
		propDisableFidelity:   "1",
		propMessageLocale:     "1033",
		propLocale:            "1033",
		propRangeTimestamp:    "2008-05-01T12:00:00.000Z",
		propSubject:           "USER-/CN=RECIPIENTS/CN=ALICE",
		propNormalizedSubject: "USER-/CN=RECIPIENTS/CN=ALICE",
		propConversationTopic: "USER-/CN=RECIPIENTS/CN=ALICE",
	} {
		got, ok := childText(set, p)
		assert.True(t, ok, p.name)
		assert.Equal(t, want, got, p.name)
	}

	for _, p := range []prop{propOOFMonths, propOOFEvents, propTentativeMonths, propTentativeEvents} {
		assert.NotNil(t, child(remove, p), p.name)
	}
	assert.Nil(t, child(remove, propBusyMonths))
}

func TestFreeBusyUpdateNothingBusy(t *testing.T) {
	body, err := freeBusyUpdate(alice, []int{2008*16 + 5}, []string{""}, 1, 2, may(1, 0, 0))
	require.NoError(t, err)

	set, remove := parseUpdate(t, body)
	assert.Nil(t, child(set, propBusyMonths))
	for _, p := range []prop{propBusyMonths, propBusyEvents, propMergedMonths, propMergedEvents} {
		assert.NotNil(t, child(remove, p), p.name)
	}
	// The subject falls back to the address.
	got, _ := childText(set, propSubject)
	assert.Equal(t, "alice@example.com", got)

	_, err = freeBusyUpdate(alice, []int{1, 2}, []string{""}, 1, 2, may(1, 0, 0))
	assert.ErrorIs(t, err, freebusy.ErrMalformedData)
}

func TestWriteFreeBusyCopiesTemplate(t *testing.T) {
	var methods []string
	var copyReq *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		switch r.Method {
		case "COPY":
			copyReq = r
			w.WriteHeader(http.StatusCreated)
		case "PROPPATCH":
			w.WriteHeader(http.StatusMultiStatus)
		}
	}, Options{FreeBusyTemplateURL: "/public/freebusy/template.EML"})

	require.NoError(t, c.WriteFreeBusy(context.Background(), alice, nil, nil, 213000, 256000))
	assert.Equal(t, []string{"COPY", "PROPPATCH"}, methods)

	require.NotNil(t, copyReq)
	assert.Equal(t, "/public/freebusy/template.EML", copyReq.URL.EscapedPath())
	dst, err := FreeBusyURL(c.opts.FreeBusyServerURL, alice.LegacyExchangeDN)
	require.NoError(t, err)
	assert.Equal(t, dst, copyReq.Header.Get("Destination"))
	assert.Equal(t, "T", copyReq.Header.Get("Overwrite"))
	assert.Equal(t, "f", copyReq.Header.Get("Allow-Rename"))
	assert.Equal(t, "infinity", copyReq.Header.Get("Depth"))
}

func TestWriteFreeBusyTemplateCopyFails(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}, Options{FreeBusyTemplateURL: "/public/template.EML"})

	err := c.WriteFreeBusy(context.Background(), alice, nil, nil, 213000, 256000)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "COPY", se.Method)
	assert.Equal(t, []string{"COPY"}, methods)
}
