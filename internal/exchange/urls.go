package exchange

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gcalsync/internal/daterange"
	"gcalsync/internal/model"
)

const freeBusyFolder = "/public/NON_IPM_SUBTREE/SCHEDULE%2B%20FREE%20BUSY/EX:"

// splitDN cuts a legacy Exchange DN into its administrative group and the
// recipient part starting at the first "/cn".
func splitDN(dn string) (adminGroup, recipient string, err error) {
	i := strings.Index(dn, "/cn")
	if i < 0 {
		return "", "", fmt.Errorf("exchange: no /cn in legacy DN %q", dn)
	}
	return dn[:i], dn[i:], nil
}

// exchangeEncode escapes a DN fragment the way Exchange names free/busy
// folders and messages.
func exchangeEncode(s string) string {
	return url.PathEscape(strings.ReplaceAll(s, "/", "_xF8FF_"))
}

// FreeBusyURL is the Schedule+ free/busy message for a legacy DN.
func FreeBusyURL(server, legacyDN string) (string, error) {
	group, recipient, err := splitDN(legacyDN)
	if err != nil {
		return "", err
	}
	return server + freeBusyFolder + exchangeEncode(group) + "/USER-" + exchangeEncode(recipient) + ".EML", nil
}

// AdminGroupURL is the free/busy folder of an administrative group.
func AdminGroupURL(server, adminGroup string) string {
	return server + freeBusyFolder + exchangeEncode(adminGroup) + "/"
}

// RasterLookupURL asks OWA for the raster free/busy of every address.
func RasterLookupURL(server string, emails []string, window daterange.Range, interval int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/public/?cmd=freebusy&start=%s&end=%s&interval=%d",
		server,
		window.Start.UTC().Format(isoLayout),
		window.End.UTC().Format(isoLayout),
		interval)
	for _, e := range emails {
		b.WriteString("&u=")
		b.WriteString(e)
	}
	return b.String()
}

// MailboxURL is the user's calendar folder.
func MailboxURL(server string, user model.User) string {
	if user.MailboxURL != "" {
		return strings.TrimRight(user.MailboxURL, "/") + "/"
	}
	return server + "/exchange/" + url.PathEscape(user.Alias()) + "/Calendar/"
}

const (
	isoLayout      = "2006-01-02T15:04:05Z"
	exchangeLayout = "2006-01-02T15:04:05.000Z"
	daslLayout     = "2006/01/02 15:04:05"
)

func formatExchangeTime(t time.Time) string {
	return t.UTC().Format(exchangeLayout)
}

// parseExchangeTime reads the date formats WebDAV properties come back in.
func parseExchangeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{exchangeLayout, time.RFC3339Nano, isoLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("exchange: bad date %q", s)
}
