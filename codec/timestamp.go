// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json/jsontext"
)

// TimestampLayout is the layout written for dates and timestamps. The
// instant is always rendered in UTC with nanosecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000000000"

// FormatTimestamp renders t in the wire form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp reads any of the accepted wire forms:
//
//	yyyy-MM-dd
//	yyyy-MM-dd HH:mm:ss[.fffffffff]
//	yyyy-MM-dd HH:mm:ss[.fffffffff] ±HHMM
//
// Without a zone suffix the value is taken as UTC. With one, the offset is
// removed before the fraction is applied, so sub-millisecond digits survive.
func ParseTimestamp(s string) (time.Time, error) {
	parts := strings.Split(s, " ")
	if len(parts) > 3 {
		return time.Time{}, fmt.Errorf("expected date and optional time: %q", s)
	}

	year, month, day, err := parseDate(parts[0])
	if err != nil {
		return time.Time{}, err
	}
	if len(parts) == 1 {
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
	}

	hour, minute, sec, nanos, err := parseClock(parts[1])
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC)
	if len(parts) == 3 {
		offset, err := parseZone(parts[2])
		if err != nil {
			return time.Time{}, err
		}
		t = t.Add(-offset)
	}
	return t.Add(time.Duration(nanos)), nil
}

func parseDate(s string) (year, month, day int, err error) {
	f := strings.Split(s, "-")
	if len(f) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid date format: %q", s)
	}
	var v [3]int
	for i, p := range f {
		if v[i], err = atoiDigits(p); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid date format: %q", s)
		}
	}
	if v[1] < 1 || v[1] > 12 || v[2] < 1 || v[2] > 31 {
		return 0, 0, 0, fmt.Errorf("date out of range: %q", s)
	}
	// time.Date normalizes Feb 31 into March; a changed day means no such date.
	if time.Date(v[0], time.Month(v[1]), v[2], 0, 0, 0, 0, time.UTC).Day() != v[2] {
		return 0, 0, 0, fmt.Errorf("no such date: %q", s)
	}
	return v[0], v[1], v[2], nil
}

func parseClock(s string) (hour, minute, sec int, nanos int64, err error) {
	clock, frac, hasFrac := strings.Cut(s, ".")
	f := strings.Split(clock, ":")
	if len(f) != 3 {
		return 0, 0, 0, 0, fmt.Errorf("invalid time format: %q", s)
	}
	var v [3]int
	for i, p := range f {
		if v[i], err = atoiDigits(p); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid time format: %q", s)
		}
	}
	if v[0] > 23 || v[1] > 59 || v[2] > 60 {
		return 0, 0, 0, 0, fmt.Errorf("time out of range: %q", s)
	}
	if hasFrac {
		if _, err := atoiDigits(frac); err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid fraction: %q", s)
		}
		x, err := strconv.ParseFloat("0."+frac, 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid fraction: %q", s)
		}
		if len(frac) <= 9 {
			// Exact: pad to nine digits.
			nanos, _ = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		} else {
			nanos = int64(math.Round(x * 1e9))
		}
	}
	return v[0], v[1], v[2], nanos, nil
}

func parseZone(s string) (time.Duration, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("invalid zone offset: %q", s)
	}
	hh, err := atoiDigits(s[1:3])
	if err != nil || hh > 23 {
		return 0, fmt.Errorf("invalid zone offset: %q", s)
	}
	mm, err := atoiDigits(s[3:5])
	if err != nil || mm > 59 {
		return 0, fmt.Errorf("invalid zone offset: %q", s)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if s[0] == '-' {
		d = -d
	}
	return d, nil
}

// atoiDigits is strconv.Atoi restricted to plain decimal digits.
func atoiDigits(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// timeSerializer handles both dates and timestamps; values are time.Time.
type timeSerializer struct{ t *Type }

func (s timeSerializer) Type() *Type { return s.t }

func (s timeSerializer) Encode(enc *jsontext.Encoder, v any) error {
	switch tm := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case time.Time:
		return enc.WriteToken(jsontext.String(FormatTimestamp(tm)))
	case *time.Time:
		if tm == nil {
			return enc.WriteToken(jsontext.Null)
		}
		return enc.WriteToken(jsontext.String(FormatTimestamp(*tm)))
	}
	return encodeErrorf(s.t, "unexpected %T", v)
}

func (s timeSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	if tok.Kind() != '"' {
		return nil, decodeErrorf(s.t, "expected string, found %s", kindName(tok.Kind()))
	}
	tm, err := ParseTimestamp(tok.String())
	if err != nil {
		return nil, &DecodeError{Type: s.t, Reason: "bad timestamp", Err: err}
	}
	return tm, nil
}
