package myhome

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// siteZone is the zone the site prints its dates in.
var siteZone = time.FixedZone("UTC+4", 4*60*60)

var monthAbbrev = map[string]time.Month{
	"янв": time.January, "фев": time.February, "мар": time.March, "апр": time.April,
	"май": time.May, "мая": time.May, "июн": time.June, "июл": time.July, "авг": time.August,
	"сен": time.September, "окт": time.October, "ноя": time.November, "дек": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseDate parses a card date such as "02 окт. 14:35". The year is not
// printed: a date later than today belongs to the previous year.
func ParseDate(s string, now time.Time) (time.Time, error) {
	parts := strings.Fields(strings.ReplaceAll(s, ".", ""))
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("parse date %q: want \"day month hh:mm\"", s)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("parse date %q: bad day", s)
	}

	month, ok := monthAbbrev[prefix(strings.ToLower(parts[1]), 3)]
	if !ok {
		return time.Time{}, fmt.Errorf("parse date %q: unknown month %q", s, parts[1])
	}

	clock, err := time.Parse("15:04", parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}

	local := now.In(siteZone)
	year := local.Year()
	if month > local.Month() || (month == local.Month() && day > local.Day()) {
		year--
	}
	return time.Date(year, month, day, clock.Hour(), clock.Minute(), 0, 0, siteZone), nil
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
