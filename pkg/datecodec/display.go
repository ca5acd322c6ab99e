package datecodec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatDate renders v with the display date layout, or "" when v is not a
// valid time.
func (c *LayoutCodec) FormatDate(v any) string {
	return c.format(v, c.layouts.Date)
}

// ParseDate reads s with the display date layout. Empty input yields the
// zero time.
func (c *LayoutCodec) ParseDate(s string) (time.Time, error) {
	return c.parse(s, c.layouts.Date, c.loc)
}

// FormatDateTime renders v with the display datetime layout.
func (c *LayoutCodec) FormatDateTime(v any) string {
	return c.format(v, c.layouts.DateTime)
}

// ParseDateTime reads s with the display datetime layout.
func (c *LayoutCodec) ParseDateTime(s string) (time.Time, error) {
	return c.parse(s, c.layouts.DateTime, c.loc)
}

// FormatMonth renders v with the month layout.
func (c *LayoutCodec) FormatMonth(v any) string {
	return c.format(v, c.layouts.Month)
}

// ParseMonth reads s with the month layout.
func (c *LayoutCodec) ParseMonth(s string) (time.Time, error) {
	return c.parse(s, c.layouts.Month, c.loc)
}

// StartOfYear returns midnight of January 1st of t's year, in t's location.
func StartOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// EndOfYear returns the last nanosecond of t's year, in t's location.
func EndOfYear(t time.Time) time.Time {
	return StartOfYear(t).AddDate(1, 0, 0).Add(-time.Nanosecond)
}

// StartOfYearFromYear is StartOfYear for a four digit year string.
func (c *LayoutCodec) StartOfYearFromYear(year string) (time.Time, error) {
	y, err := parseYear(year)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(y, time.January, 1, 0, 0, 0, 0, c.loc), nil
}

// EndOfYearFromYear is EndOfYear for a four digit year string.
func (c *LayoutCodec) EndOfYearFromYear(year string) (time.Time, error) {
	start, err := c.StartOfYearFromYear(year)
	if err != nil {
		return time.Time{}, err
	}
	return EndOfYear(start), nil
}

func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, fmt.Errorf("%w: year %q", ErrInvalid, s)
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: year %q", ErrInvalid, s)
	}
	return y, nil
}
