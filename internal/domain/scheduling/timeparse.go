package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// TimeLayout is the wire format for booking times in the server's zone.
const TimeLayout = "2006-01-02 15:04"

// ErrUnparsableTime is returned when no time expression is recognised.
var ErrUnparsableTime = errors.New("could not understand the requested time")

// ParseTime accepts TimeLayout in loc or RFC 3339.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(TimeLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected %q or RFC 3339", s, TimeLayout)
}

var phraseParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// ParseBookingTime interprets a spoken phrase such as "tomorrow at 10am" or
// "next friday 3:30 pm" relative to now. Ambiguous phrases resolve to the
// future: a time of day already past today moves to tomorrow and a weekday
// already past this week moves to next week.
func ParseBookingTime(phrase string, now time.Time) (time.Time, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return time.Time{}, ErrUnparsableTime
	}
	if t, err := ParseTime(phrase, now.Location()); err == nil {
		return t, nil
	}

	res, err := phraseParser.Parse(phrase, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnparsableTime, err)
	}
	if res == nil {
		return time.Time{}, ErrUnparsableTime
	}

	t := res.Time.Truncate(time.Minute)
	if t.Before(now) && now.Sub(t) < 7*24*time.Hour && !explicitPast(phrase) {
		if sameDay(t, now) {
			t = t.AddDate(0, 0, 1)
		} else {
			t = t.AddDate(0, 0, 7)
		}
	}
	return t, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func explicitPast(phrase string) bool {
	lower := strings.ToLower(phrase)
	for _, w := range []string{"yesterday", "ago", "last "} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
