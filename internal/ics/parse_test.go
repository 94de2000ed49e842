package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcalsync/internal/model"
)

func calendar(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//gcalsync//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

var sampleFeed = calendar(
	"BEGIN:VEVENT",
	"UID:meeting-1",
	"SUMMARY:Planning",
	"DTSTART:20080421T130000Z",
	"DTEND:20080421T140000Z",
	"STATUS:TENTATIVE",
	"CLASS:PRIVATE",
	"LOCATION:Room 1",
	"ATTENDEE;PARTSTAT=ACCEPTED:mailto:alice@example.com",
	"ATTENDEE:mailto:bob@example.com",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:holiday",
	"SUMMARY:Holiday",
	"DTSTART;VALUE=DATE:20080422",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"SUMMARY:no uid",
	"DTSTART:20080423T130000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:cancelled",
	"DTSTART:20080424T130000Z",
	"DTEND:20080424T140000Z",
	"STATUS:CANCELLED",
	"END:VEVENT",
)

func TestParse(t *testing.T) {
	events, err := Parse("alice@example.com", sampleFeed)
	require.NoError(t, err)
	require.Len(t, events, 3)

	m := events[0]
	assert.Equal(t, "alice@example.com", m.FeedID)
	assert.Equal(t, "meeting-1", m.UID)
	assert.Equal(t, "Planning", m.Summary)
	assert.Equal(t, "Room 1", m.Location)
	assert.True(t, m.Start.Equal(time.Date(2008, 4, 21, 13, 0, 0, 0, time.UTC)))
	assert.True(t, m.End.Equal(time.Date(2008, 4, 21, 14, 0, 0, 0, time.UTC)))
	assert.False(t, m.AllDay)
	assert.Equal(t, model.EventStatusTentative, m.Status)
	assert.True(t, m.Private)
	assert.Equal(t, []model.Attendee{
		{Email: "alice@example.com", Status: model.ParticipantAccepted},
		{Email: "bob@example.com", Status: model.ParticipantNeedsAction},
	}, m.Attendees)
	assert.False(t, m.IsOverride())

	h := events[1]
	assert.True(t, h.AllDay)
	assert.Equal(t, 24*time.Hour, h.End.Sub(h.Start))
	assert.Equal(t, model.EventStatusUnset, h.Status)

	assert.Equal(t, model.EventStatusCancelled, events[2].Status)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse("x", []byte("  \r\n"))
	assert.ErrorIs(t, err, ErrEmptyFeed)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, model.EventStatusCancelled, parseStatus("cancelled"))
	assert.Equal(t, model.EventStatusCancelled, parseStatus("CANCELED"))
	assert.Equal(t, model.EventStatusConfirmed, parseStatus(" CONFIRMED "))
	assert.Equal(t, model.EventStatusUnset, parseStatus("DRAFT"))
}

func TestParseICSTime(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)

	got, err := parseICSTime("20080421T130000Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())

	got, err = parseICSTime("20080421T130000", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2008, 4, 21, 4, 0, 0, 0, time.UTC)))

	got, err = parseICSTime("20080421", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2008, 4, 21, 0, 0, 0, 0, loc), got)

	_, err = parseICSTime(" ", loc)
	assert.Error(t, err)
}
