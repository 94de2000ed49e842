package exchange

import (
	"fmt"

	"github.com/beevik/etree"

	"gcalsync/internal/freebusy"
)

const (
	nsDAV      = "DAV:"
	nsTypes    = "urn:uuid:c2f41010-65b3-11d1-a29f-00aa00c14882/"
	nsXML      = "xml:"
	nsPropTag  = "http://schemas.microsoft.com/mapi/proptag/"
	nsCalendar = "urn:schemas:calendar:"
	nsMail     = "urn:schemas:mailheader:"
	nsAppt     = "http://schemas.microsoft.com/mapi/id/{00062008-0000-0000-C000-000000000046}/"
	nsExchange = "http://schemas.microsoft.com/exchange/"
	nsRaster   = "WM"
)

var prefixes = []struct{ prefix, ns string }{
	{"a", nsDAV},
	{"b", nsTypes},
	{"c", nsXML},
	{"d", nsPropTag},
	{"e", nsCalendar},
	{"f", nsMail},
	{"h", nsAppt},
	{"x", nsExchange},
}

func prefixOf(ns string) string {
	for _, p := range prefixes {
		if p.ns == ns {
			return p.prefix
		}
	}
	panic("exchange: unregistered namespace " + ns)
}

// prop names a WebDAV property.
type prop struct {
	ns   string
	name string
}

// Free/busy message properties.
var (
	propBusyMonths        = prop{nsPropTag, "x68531003"}
	propBusyEvents        = prop{nsPropTag, "x68541102"}
	propMergedMonths      = prop{nsPropTag, "x684f1003"}
	propMergedEvents      = prop{nsPropTag, "x68501102"}
	propOOFMonths         = prop{nsPropTag, "x68551003"}
	propOOFEvents         = prop{nsPropTag, "x68561102"}
	propTentativeMonths   = prop{nsPropTag, "x68511003"}
	propTentativeEvents   = prop{nsPropTag, "x68521102"}
	propPublishedStart    = prop{nsPropTag, "x68470003"}
	propPublishedEnd      = prop{nsPropTag, "x68480003"}
	propResourceType      = prop{nsPropTag, "x68410003"}
	propDisableFidelity   = prop{nsPropTag, "x10F2000B"}
	propMessageLocale     = prop{nsPropTag, "x3FF10003"}
	propLocale            = prop{nsPropTag, "x66A10003"}
	propRangeTimestamp    = prop{nsPropTag, "x68680040"}
	propSubject           = prop{nsPropTag, "x0037001e"}
	propNormalizedSubject = prop{nsPropTag, "x0e1d001e"}
	propConversationTopic = prop{nsPropTag, "x0070001e"}
)

// Appointment properties.
var (
	propHref          = prop{nsDAV, "href"}
	propContentClass  = prop{nsDAV, "contentclass"}
	propComment       = prop{nsDAV, "comment"}
	propCreated       = prop{nsDAV, "creationdate"}
	propMessageClass  = prop{nsExchange, "outlookmessageclass"}
	propAllDay        = prop{nsCalendar, "alldayevent"}
	propBusyStatus    = prop{nsCalendar, "busystatus"}
	propStart         = prop{nsCalendar, "dtstart"}
	propEnd           = prop{nsCalendar, "dtend"}
	propInstanceType  = prop{nsCalendar, "instancetype"}
	propLocation      = prop{nsCalendar, "location"}
	propMeetingStatus = prop{nsCalendar, "meetingstatus"}
	propOrganizer     = prop{nsCalendar, "organizer"}
	propBody          = prop{nsPropTag, "x1000001e"}
	propPrivate       = prop{nsAppt, "x8506"}
	propResponse      = prop{nsAppt, "x8218"}
	propMailSubject   = prop{nsMail, "subject"}
)

// propertyUpdate builds a PROPPATCH body.
type propertyUpdate struct {
	doc    *etree.Document
	root   *etree.Element
	set    *etree.Element
	remove *etree.Element
}

func newPropertyUpdate() *propertyUpdate {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("a:propertyupdate")
	for _, p := range prefixes {
		root.CreateAttr("xmlns:"+p.prefix, p.ns)
	}
	return &propertyUpdate{doc: doc, root: root}
}

func (u *propertyUpdate) setProp() *etree.Element {
	if u.set == nil {
		u.set = u.root.CreateElement("a:set").CreateElement("a:prop")
	}
	return u.set
}

// Set sets a single-valued property. dt is the Exchange data type, or empty
// for strings.
func (u *propertyUpdate) Set(p prop, dt, value string) {
	el := u.setProp().CreateElement(prefixOf(p.ns) + ":" + p.name)
	if dt != "" {
		el.CreateAttr("b:dt", dt)
	}
	el.SetText(value)
}

// SetMulti sets a multi-valued property of type mv.<dt>.
func (u *propertyUpdate) SetMulti(p prop, dt string, values []string) {
	el := u.setProp().CreateElement(prefixOf(p.ns) + ":" + p.name)
	el.CreateAttr("b:dt", "mv."+dt)
	for _, v := range values {
		el.CreateElement("c:v").SetText(v)
	}
}

func (u *propertyUpdate) Remove(p prop) {
	if u.remove == nil {
		u.remove = u.root.CreateElement("a:remove").CreateElement("a:prop")
	}
	u.remove.CreateElement(prefixOf(p.ns) + ":" + p.name)
}

func (u *propertyUpdate) Bytes() ([]byte, error) {
	return u.doc.WriteToBytes()
}

// parseXML reads a server answer.
func parseXML(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", freebusy.ErrMalformedData, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: empty document", freebusy.ErrMalformedData)
	}
	return doc, nil
}

// child returns the first child of el named p.
func child(el *etree.Element, p prop) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == p.name && c.NamespaceURI() == p.ns {
			return c
		}
	}
	return nil
}

func childText(el *etree.Element, p prop) (string, bool) {
	c := child(el, p)
	if c == nil {
		return "", false
	}
	return c.Text(), true
}

// multiValues returns the <v> values of a multi-valued property.
func multiValues(el *etree.Element, p prop) []string {
	c := child(el, p)
	if c == nil {
		return nil
	}
	var out []string
	for _, v := range c.ChildElements() {
		if v.Tag == "v" {
			out = append(out, v.Text())
		}
	}
	return out
}

// responses returns the DAV:response elements of a multistatus answer.
func responses(doc *etree.Document) []*etree.Element {
	var out []*etree.Element
	for _, el := range doc.FindElements("//response") {
		if el.NamespaceURI() == nsDAV {
			out = append(out, el)
		}
	}
	return out
}

// firstProp returns the prop element of the first propstat of a response.
func firstProp(resp *etree.Element) *etree.Element {
	return child(child(resp, prop{nsDAV, "propstat"}), prop{nsDAV, "prop"})
}
