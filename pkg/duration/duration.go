// Package duration parses and formats human-readable durations. It extends
// Go's standard duration syntax with calendar units, so retention settings
// can be written as "30d" or "2 weeks" instead of "720h".
//
// Units beyond time.ParseDuration: d/day(s), w/wk(s)/week(s), mo(s)/month(s)
// (30 days) and y/yr(s)/year(s) (365 days). Whitespace between a number and
// its unit is optional and matching is case-insensitive.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Calendar units. Months and years are fixed approximations, good enough
// for retention windows.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var unitValues = map[string]time.Duration{
	"ns": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "µs": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
	"mo": Month, "mos": Month, "month": Month, "months": Month,
	"y": Year, "yr": Year, "yrs": Year, "year": Year, "years": Year,
}

var tokenPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Zµ]+)`)

// Parse converts a human-readable duration string to a time.Duration.
// Everything time.ParseDuration accepts is accepted, plus calendar units
// and full unit words: "30d", "2 weeks", "1w2d12h", "3 hours".
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var total time.Duration
	tokens := tokenPattern.FindAllStringSubmatch(s, -1)
	if len(tokens) == 0 {
		return 0, fmt.Errorf("duration: cannot parse %q", s)
	}
	// Anything the token pattern does not consume is garbage.
	if rest := strings.TrimSpace(tokenPattern.ReplaceAllString(s, "")); rest != "" {
		return 0, fmt.Errorf("duration: cannot parse %q", s)
	}
	for _, tok := range tokens {
		mult, ok := unitValues[strings.ToLower(tok[2])]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", tok[2], s)
		}
		if n, err := strconv.ParseInt(tok[1], 10, 64); err == nil {
			total += time.Duration(n) * mult
			continue
		}
		value, err := strconv.ParseFloat(tok[1], 64)
		if err != nil {
			return 0, fmt.Errorf("duration: bad number %q", tok[1])
		}
		total += time.Duration(value * float64(mult))
	}

	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is Parse for values known good at compile time. Panics on error.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration with calendar units: whole years, months, weeks
// and days are pulled out first, then any sub-day remainder is appended in
// Go's standard form. Durations under a day come back exactly as
// time.Duration.String would print them, so Parse(Format(d)) == d.
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, part := range []struct {
		unit time.Duration
		name string
	}{{Year, "y"}, {Month, "mo"}, {Week, "w"}, {Day, "d"}} {
		if n := d / part.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, part.name)
			d -= n * part.unit
		}
	}
	if d > 0 || b.Len() == 0 {
		b.WriteString(d.String())
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
