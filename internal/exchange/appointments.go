package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"gcalsync/internal/daterange"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/model"
	"gcalsync/internal/status"
)

// ownerComment tags placeholders written by the sync service. It is the
// value earlier releases stored, so their placeholders stay recognised.
const ownerComment = "GCalenderAppointment"

var appointmentProps = []prop{
	propHref, propAllDay, propBody, propBusyStatus, propComment, propCreated,
	propStart, propEnd, propInstanceType, propPrivate, propLocation,
	propMeetingStatus, propOrganizer, propResponse, propMailSubject,
}

// appointmentSearch is the DASL query for appointments overlapping a window.
func appointmentSearch(folder string, window daterange.Range) ([]byte, error) {
	var sel []string
	for _, p := range appointmentProps {
		sel = append(sel, `"`+p.ns+p.name+`"`)
	}
	sql := fmt.Sprintf(
		`SELECT %s FROM SCOPE('SHALLOW TRAVERSAL OF "%s"') `+
			`WHERE "DAV:contentclass" = 'urn:content-classes:appointment' `+
			`AND "urn:schemas:calendar:dtend" > '%s' `+
			`AND "urn:schemas:calendar:dtstart" < '%s'`,
		strings.Join(sel, ", "),
		strings.ReplaceAll(folder, "'", "''"),
		window.Start.UTC().Format(daslLayout),
		window.End.UTC().Format(daslLayout),
	)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("a:searchrequest")
	root.CreateAttr("xmlns:a", nsDAV)
	root.CreateElement("a:sql").SetText(sql)
	return doc.WriteToBytes()
}

// FetchAppointments lists the appointments in the user's calendar folder
// that overlap window.
func (c *Client) FetchAppointments(ctx context.Context, user model.User, window daterange.Range) ([]*model.Appointment, error) {
	folder := MailboxURL(c.opts.ServerURL, user)
	body, err := appointmentSearch(folder, window)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, "SEARCH", folder, body, http.Header{"Depth": {"1"}, "Brief": {"t"}})
	if err != nil {
		return nil, err
	}
	doc, err := parseXML(data)
	if err != nil {
		return nil, err
	}

	var out []*model.Appointment
	for _, resp := range responses(doc) {
		appt, err := parseAppointment(resp)
		if err != nil {
			appLog.Warn("skipping unreadable appointment", "user", user.Email, "err", err)
			continue
		}
		out = append(out, appt)
	}
	return out, nil
}

func parseAppointment(resp *etree.Element) (*model.Appointment, error) {
	appt := &model.Appointment{
		BusyStatus:    model.Busy,
		MeetingStatus: model.MeetingConfirmed,
	}
	appt.HRef, _ = childText(resp, propHref)
	el := firstProp(resp)
	if el == nil {
		return nil, fmt.Errorf("exchange: %s: no properties", appt.HRef)
	}

	text := func(p prop) string {
		v, _ := childText(el, p)
		return strings.TrimSpace(v)
	}
	var errs []error
	parseTime := func(p prop) time.Time {
		v := text(p)
		if v == "" {
			return time.Time{}
		}
		t, err := parseExchangeTime(v)
		errs = append(errs, err)
		return t
	}

	appt.Range = daterange.New(parseTime(propStart), parseTime(propEnd))
	appt.Created = parseTime(propCreated)
	appt.Subject = text(propMailSubject)
	appt.Location = text(propLocation)
	appt.Organizer = text(propOrganizer)
	if v, ok := childText(el, propBody); ok {
		appt.Body = v
	}
	appt.AllDayEvent = text(propAllDay) == "1"
	appt.IsPrivate = text(propPrivate) == "1"

	if v := text(propBusyStatus); v != "" {
		s, err := status.ParseBusyStatus(v)
		errs = append(errs, err)
		appt.BusyStatus = s
	}
	if v := text(propMeetingStatus); v != "" {
		s, err := status.ParseMeetingStatus(v)
		errs = append(errs, err)
		appt.MeetingStatus = s
	}
	if v := text(propInstanceType); v != "" {
		s, err := status.ParseInstanceType(v)
		errs = append(errs, err)
		appt.InstanceType = s
	}
	if v := text(propResponse); v != "" {
		s, err := status.ParseResponseStatus(v)
		errs = append(errs, err)
		appt.ResponseStatus = s
	}

	appt.Comment = text(propComment)
	if appt.Comment == ownerComment {
		appt.Owner = model.OwnerSync
		appt.Comment = ""
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("exchange: %s: %w", appt.HRef, err)
	}
	return appt, nil
}

// appointmentUpdate is the PROPPATCH body that writes every field the sync
// service manages.
func appointmentUpdate(appt *model.Appointment, create bool) ([]byte, error) {
	comment := appt.Comment
	if appt.Owned() {
		comment = ownerComment
	}

	u := newPropertyUpdate()
	if create {
		u.Set(propContentClass, "", "urn:content-classes:appointment")
		u.Set(propMessageClass, "", "IPM.Appointment")
	}
	u.Set(propMailSubject, "", appt.Subject)
	u.Set(propBody, "", appt.Body)
	u.Set(propComment, "", comment)
	u.Set(propPrivate, "boolean", boolValue(appt.IsPrivate))
	u.Set(propAllDay, "boolean", boolValue(appt.AllDayEvent))
	u.Set(propStart, "dateTime.tz", formatExchangeTime(appt.Range.Start))
	u.Set(propEnd, "dateTime.tz", formatExchangeTime(appt.Range.End))
	u.Set(propInstanceType, "int", strconv.Itoa(int(appt.InstanceType)))
	u.Set(propLocation, "", appt.Location)
	u.Set(propMeetingStatus, "", meetingStatusValue(appt.MeetingStatus))
	u.Set(propResponse, "int", strconv.Itoa(int(appt.ResponseStatus)))
	if appt.Organizer != "" {
		u.Set(propOrganizer, "", appt.Organizer)
	}
	u.Set(propBusyStatus, "", busyStatusValue(appt.BusyStatus))
	return u.Bytes()
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func busyStatusValue(s model.BusyStatus) string {
	switch s {
	case model.Free:
		return "FREE"
	case model.OutOfOffice:
		return "OOF"
	case model.Tentative:
		return "TENTATIVE"
	default:
		return "BUSY"
	}
}

func meetingStatusValue(s model.MeetingStatus) string {
	switch s {
	case model.MeetingCancelled:
		return "CANCELLED"
	case model.MeetingTentative:
		return "TENTATIVE"
	default:
		return "CONFIRMED"
	}
}

// CreateAppointment writes appt as a new item in the user's calendar
// folder and records its URL in appt.HRef.
func (c *Client) CreateAppointment(ctx context.Context, user model.User, appt *model.Appointment) error {
	body, err := appointmentUpdate(appt, true)
	if err != nil {
		return err
	}
	href := MailboxURL(c.opts.ServerURL, user) + "{" + c.newID() + "}.eml"
	if _, err := c.do(ctx, "PROPPATCH", href, body, http.Header{"Brief": {"t"}}); err != nil {
		return err
	}
	appt.HRef = href
	return nil
}

// UpdateAppointment rewrites an existing item.
func (c *Client) UpdateAppointment(ctx context.Context, user model.User, appt *model.Appointment) error {
	if appt.HRef == "" {
		return fmt.Errorf("exchange: update %s for %s: appointment has no URL", appt.Range, user.Email)
	}
	body, err := appointmentUpdate(appt, false)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "PROPPATCH", appt.HRef, body, http.Header{"Brief": {"t"}})
	return err
}

// DeleteAppointment removes an item. An item that is already gone is not
// an error.
func (c *Client) DeleteAppointment(ctx context.Context, user model.User, appt *model.Appointment) error {
	if appt.HRef == "" {
		return fmt.Errorf("exchange: delete %s for %s: appointment has no URL", appt.Range, user.Email)
	}
	_, err := c.do(ctx, http.MethodDelete, appt.HRef, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return err
}
