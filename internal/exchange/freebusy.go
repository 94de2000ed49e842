package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
)

// FetchFreeBusy reads the user's published free/busy data.
func (c *Client) FetchFreeBusy(ctx context.Context, user model.User, window daterange.Range) (freebusy.FreeBusy, error) {
	if c.opts.RasterLookup {
		all, err := c.FetchRaster(ctx, []model.User{user}, window)
		if err != nil {
			return freebusy.FreeBusy{}, err
		}
		return all[strings.ToLower(user.Email)], nil
	}
	return c.fetchFreeBusyMessage(ctx, user)
}

// FetchRaster looks up several users in one OWA raster request. The result
// is keyed by lower-cased email; users the server does not report are
// missing from it.
func (c *Client) FetchRaster(ctx context.Context, users []model.User, window daterange.Range) (map[string]freebusy.FreeBusy, error) {
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	interval := c.opts.RasterInterval
	url := RasterLookupURL(c.opts.FreeBusyServerURL, emails, window, interval)

	data, err := c.do(ctx, http.MethodGet, url, nil, http.Header{"Translate": {"f"}})
	if err != nil {
		return nil, err
	}
	doc, err := parseXML(data)
	if err != nil {
		return nil, err
	}

	base := freebusy.RasterBase(window.Start.UTC(), interval)
	out := make(map[string]freebusy.FreeBusy)
	for _, item := range doc.FindElements("//response/recipients/item") {
		if item.NamespaceURI() != nsRaster {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(textOf(item.SelectElement("email"))))
		if email == "" {
			continue
		}
		var fb freebusy.FreeBusy
		freebusy.ParseRaster(base, interval, strings.TrimSpace(textOf(item.SelectElement("fbdata"))), &fb)
		out[email] = fb
	}
	return out, nil
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

var freeBusyReadProps = []prop{
	propBusyMonths, propBusyEvents,
	propOOFMonths, propOOFEvents,
	propTentativeMonths, propTentativeEvents,
}

// fetchFreeBusyMessage reads the month blocks stored on the user's
// Schedule+ free/busy message.
func (c *Client) fetchFreeBusyMessage(ctx context.Context, user model.User) (freebusy.FreeBusy, error) {
	url, err := FreeBusyURL(c.opts.FreeBusyServerURL, user.LegacyExchangeDN)
	if err != nil {
		return freebusy.FreeBusy{}, err
	}

	body, err := propfindBody(freeBusyReadProps)
	if err != nil {
		return freebusy.FreeBusy{}, err
	}
	data, err := c.do(ctx, "PROPFIND", url, body, http.Header{"Depth": {"0"}, "Brief": {"t"}})
	if err != nil {
		return freebusy.FreeBusy{}, err
	}
	doc, err := parseXML(data)
	if err != nil {
		return freebusy.FreeBusy{}, err
	}

	resps := responses(doc)
	if len(resps) == 0 {
		return freebusy.FreeBusy{}, fmt.Errorf("%w: no response for %s", freebusy.ErrMalformedData, url)
	}
	el := firstProp(resps[0])

	var fb freebusy.FreeBusy
	if fb.Busy, err = decodeSection(el, propBusyMonths, propBusyEvents); err != nil {
		return fb, err
	}
	if fb.OutOfOffice, err = decodeSection(el, propOOFMonths, propOOFEvents); err != nil {
		return fb, err
	}
	if fb.Tentative, err = decodeSection(el, propTentativeMonths, propTentativeEvents); err != nil {
		return fb, err
	}
	fb.All = append(fb.All, fb.Busy...)
	fb.All = append(fb.All, fb.OutOfOffice...)
	fb.All = append(fb.All, fb.Tentative...)
	return fb, nil
}

func decodeSection(el *etree.Element, months, events prop) ([]daterange.Range, error) {
	monthValues := multiValues(el, months)
	keys := make([]int, 0, len(monthValues))
	for _, v := range monthValues {
		k, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: month key %q", freebusy.ErrMalformedData, v)
		}
		keys = append(keys, k)
	}
	return freebusy.DecodeBlocks(keys, multiValues(el, events))
}

func propfindBody(props []prop) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("a:propfind")
	for _, p := range prefixes {
		root.CreateAttr("xmlns:"+p.prefix, p.ns)
	}
	list := root.CreateElement("a:prop")
	for _, p := range props {
		list.CreateElement(prefixOf(p.ns) + ":" + p.name)
	}
	return doc.WriteToBytes()
}

// WriteFreeBusy replaces the busy blocks on the user's free/busy message.
// Everything is published as busy; stale tentative and out-of-office
// blocks are removed. With a template configured the message is first
// recreated from it.
func (c *Client) WriteFreeBusy(ctx context.Context, user model.User, keys []int, blocks []string, start, end float64) error {
	url, err := FreeBusyURL(c.opts.FreeBusyServerURL, user.LegacyExchangeDN)
	if err != nil {
		return err
	}
	if c.opts.FreeBusyTemplateURL != "" {
		if err := c.copyMessage(ctx, c.opts.FreeBusyTemplateURL, url); err != nil {
			return err
		}
		appLog.Debug("free/busy template copied", "user", user.Email)
	}

	body, err := freeBusyUpdate(user, keys, blocks, start, end, c.now())
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, "PROPPATCH", url, body, http.Header{"Brief": {"t"}}); err != nil {
		return err
	}
	appLog.Debug("free/busy message updated", "user", user.Email, "months", len(keys))
	return nil
}

// copyMessage copies the item at src over dst.
func (c *Client) copyMessage(ctx context.Context, src, dst string) error {
	_, err := c.do(ctx, "COPY", src, nil, http.Header{
		"Destination":  {dst},
		"Overwrite":    {"T"},
		"Allow-Rename": {"f"},
		"Depth":        {"infinity"},
	})
	return err
}

func freeBusyUpdate(user model.User, keys []int, blocks []string, start, end float64, now time.Time) ([]byte, error) {
	if len(keys) != len(blocks) {
		return nil, fmt.Errorf("%w: %d month keys but %d blocks", freebusy.ErrMalformedData, len(keys), len(blocks))
	}

	months := make([]string, 0, len(keys))
	events := make([]string, 0, len(blocks))
	for i, k := range keys {
		// Months without ranges carry nothing worth publishing.
		if blocks[i] == "" {
			continue
		}
		months = append(months, strconv.Itoa(k))
		events = append(events, blocks[i])
	}

	u := newPropertyUpdate()
	if len(months) == 0 {
		u.Remove(propBusyMonths)
		u.Remove(propBusyEvents)
		u.Remove(propMergedMonths)
		u.Remove(propMergedEvents)
	} else {
		u.SetMulti(propBusyMonths, "int", months)
		u.SetMulti(propBusyEvents, "bin.base64", events)
		u.SetMulti(propMergedMonths, "int", months)
		u.SetMulti(propMergedEvents, "bin.base64", events)
	}
	u.Remove(propOOFMonths)
	u.Remove(propOOFEvents)
	u.Remove(propTentativeMonths)
	u.Remove(propTentativeEvents)

	u.Set(propPublishedStart, "int", strconv.FormatInt(int64(start), 10))
	u.Set(propPublishedEnd, "int", strconv.FormatInt(int64(end), 10))
	u.Set(propResourceType, "int", "0")
	u.Set(propDisableFidelity, "boolean", "1")
	u.Set(propMessageLocale, "int", "1033")
	u.Set(propLocale, "int", "1033")
	u.Set(propRangeTimestamp, "dateTime.tz", formatExchangeTime(now))

	name := user.FreeBusyCommonName
	if name == "" {
		name = user.Email
	}
	u.Set(propSubject, "", name)
	u.Set(propNormalizedSubject, "", name)
	u.Set(propConversationTopic, "", name)

	return u.Bytes()
}
