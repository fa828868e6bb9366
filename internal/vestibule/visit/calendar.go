package visit

import (
	"time"
)

// DefaultZone is the civil calendar that defines a business day.
const DefaultZone = "Asia/Manila"

// Calendar answers "same business day" questions in a fixed civil time zone
// rather than UTC, so check-ins near midnight UTC land on the right day.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named zone.  Manila has no DST, so when the tz
// database is unavailable the fixed UTC+8 offset is used for it.
func NewCalendar(zone string) (Calendar, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		if zone == DefaultZone {
			return Calendar{loc: time.FixedZone("PHT", 8*60*60)}, nil
		}
		return Calendar{}, err
	}
	return Calendar{loc: loc}, nil
}

// CalendarIn builds a Calendar directly from a location.
func CalendarIn(loc *time.Location) Calendar {
	return Calendar{loc: loc}
}

func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// SameDay reports whether a and b fall on the same civil date.
func (c Calendar) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(c.Location()).Date()
	by, bm, bd := b.In(c.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns [start, end) of the business day containing t, in UTC.
func (c Calendar) DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.In(c.Location()).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, c.Location())
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
