package guide

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ParseError reports a programme timestamp that does not match the guide's
// fixed-width date format.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("guide: malformed timestamp %q", e.Input)
}

// dateRe matches the guide timestamp format: 14 digits, a space, then a
// 4-digit offset. Source data omits the offset sign; an explicit sign is
// accepted when present.
var dateRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})(\d{2})(\d{2})(\d{2}) ([+-]?\d{2})(\d{2})$`)

// DateFields is the structured decomposition of a guide timestamp.
// Month is 0-based.
type DateFields struct {
	Year         int
	Month        int
	Day          int
	Hour         int
	Minute       int
	Second       int
	OffsetHour   int
	OffsetMinute int
}

// ParseDate decodes a guide timestamp into its fields.
func ParseDate(s string) (DateFields, error) {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return DateFields{}, &ParseError{Input: s}
	}
	num := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return DateFields{
		Year:         num(m[1]),
		Month:        num(m[2]) - 1,
		Day:          num(m[3]),
		Hour:         num(m[4]),
		Minute:       num(m[5]),
		Second:       num(m[6]),
		OffsetHour:   num(m[7]),
		OffsetMinute: num(m[8]),
	}, nil
}

// Instant builds the absolute instant for f. The upstream data treats every
// timestamp as UTC regardless of its offset fields; honorOffset applies the
// offset instead so callers can opt into the other interpretation.
func (f DateFields) Instant(honorOffset bool) time.Time {
	t := time.Date(f.Year, time.Month(f.Month+1), f.Day, f.Hour, f.Minute, f.Second, 0, time.UTC)
	if honorOffset {
		offset := time.Duration(f.OffsetHour)*time.Hour + time.Duration(f.OffsetMinute)*time.Minute
		if f.OffsetHour < 0 {
			offset = time.Duration(f.OffsetHour)*time.Hour - time.Duration(f.OffsetMinute)*time.Minute
		}
		t = t.Add(-offset)
	}
	return t
}
