// Package datecodec converts between wire strings and time.Time for the date
// and datetime fields of a record type.
//
// Layouts are Go reference layouts. A layout containing a '%' is read as a
// strftime pattern and converted once at construction.
package datecodec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// ErrInvalid is returned when a value cannot be read as a date.
var ErrInvalid = errors.New("datecodec: invalid value")

// Codec is the contract record models depend on. Serialize returns "" for
// values that are not valid temporal values. Deserialize accepts wire
// strings, time.Time values (returned unchanged) and Zoned input; nil and ""
// yield the zero time.
type Codec interface {
	SerializeDate(v any) string
	SerializeDateTime(v any) string
	DeserializeDate(v any) (time.Time, error)
	DeserializeDateTime(v any) (time.Time, error)
	IsValid(v any) bool
}

// Zoned is a wall-clock date in a named IANA timezone, as produced by
// backends that serialize timestamps with their zone.
type Zoned struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
}

// Layouts names the layouts used on the wire and for display.
type Layouts struct {
	SerializedDate     string
	SerializedDateTime string
	Date               string
	DateTime           string
	Month              string
}

// DefaultLayouts match the usual SQL wire format and a day-first display.
var DefaultLayouts = Layouts{
	SerializedDate:     "2006-01-02",
	SerializedDateTime: "2006-01-02 15:04:05",
	Date:               "02/01/2006",
	DateTime:           "02/01/2006 15:04",
	Month:              "01/2006",
}

// zonedLayouts are tried, after the serialized datetime layout, when reading
// the date part of Zoned input.
var zonedLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02",
}

// Option configures a LayoutCodec.
type Option func(*LayoutCodec)

// WithLocation sets the location wire strings are read in. The default is
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(c *LayoutCodec) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// LayoutCodec is the layout-driven Codec.
type LayoutCodec struct {
	layouts Layouts
	loc     *time.Location
}

// New builds a LayoutCodec. Empty layouts fall back to DefaultLayouts.
func New(layouts Layouts, opts ...Option) (*LayoutCodec, error) {
	resolved, err := resolveLayouts(layouts)
	if err != nil {
		return nil, err
	}
	c := &LayoutCodec{layouts: resolved, loc: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Layouts returns the resolved Go layouts.
func (c *LayoutCodec) Layouts() Layouts {
	return c.layouts
}

// IsValid reports whether v is a non-zero time.
func (c *LayoutCodec) IsValid(v any) bool {
	_, ok := asTime(v)
	return ok
}

func (c *LayoutCodec) SerializeDate(v any) string {
	return c.format(v, c.layouts.SerializedDate)
}

func (c *LayoutCodec) SerializeDateTime(v any) string {
	return c.format(v, c.layouts.SerializedDateTime)
}

func (c *LayoutCodec) DeserializeDate(v any) (time.Time, error) {
	return c.deserialize(v, c.layouts.SerializedDate)
}

func (c *LayoutCodec) DeserializeDateTime(v any) (time.Time, error) {
	return c.deserialize(v, c.layouts.SerializedDateTime)
}

func (c *LayoutCodec) format(v any, layout string) string {
	t, ok := asTime(v)
	if !ok {
		return ""
	}
	return t.Format(layout)
}

func (c *LayoutCodec) deserialize(v any, layout string) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return val, nil
	case *time.Time:
		if val == nil {
			return time.Time{}, nil
		}
		return *val, nil
	case Zoned:
		return c.deserializeZoned(val, layout)
	case *Zoned:
		if val == nil {
			return time.Time{}, nil
		}
		return c.deserializeZoned(*val, layout)
	case map[string]any:
		date, _ := val["date"].(string)
		zone, _ := val["timezone"].(string)
		return c.deserializeZoned(Zoned{Date: date, Timezone: zone}, layout)
	case string:
		return c.parse(val, layout, c.loc)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalid, v)
	}
}

func (c *LayoutCodec) deserializeZoned(z Zoned, layout string) (time.Time, error) {
	loc := c.loc
	if name := strings.TrimSpace(z.Timezone); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, name, err)
		}
		loc = l
	}
	date := strings.TrimSpace(z.Date)
	if date == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(layout, date, loc); err == nil {
		return t, nil
	}
	for _, alt := range zonedLayouts {
		if t, err := time.ParseInLocation(alt, date, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalid, z.Date)
}

func (c *LayoutCodec) parse(s, layout string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %q", ErrInvalid, s, layout)
	}
	return t, nil
}

func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, !val.IsZero()
	default:
		return time.Time{}, false
	}
}

func resolveLayouts(in Layouts) (Layouts, error) {
	out := DefaultLayouts
	fields := []struct {
		name string
		src  string
		dst  *string
	}{
		{"serialized date", in.SerializedDate, &out.SerializedDate},
		{"serialized datetime", in.SerializedDateTime, &out.SerializedDateTime},
		{"date", in.Date, &out.Date},
		{"datetime", in.DateTime, &out.DateTime},
		{"month", in.Month, &out.Month},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.src) == "" {
			continue
		}
		layout, err := goLayout(f.src)
		if err != nil {
			return Layouts{}, fmt.Errorf("datecodec: %s layout: %w", f.name, err)
		}
		*f.dst = layout
	}
	return out, nil
}

func goLayout(layout string) (string, error) {
	if !strings.Contains(layout, "%") {
		return layout, nil
	}
	return strftime.Layout(layout)
}
