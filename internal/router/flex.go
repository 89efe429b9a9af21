package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var jsonNull = []byte("null")

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, jsonNull) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

// flexDecimal accepts a number or numeric string. Null and "" leave it unset.
type flexDecimal struct {
	value decimal.Decimal
	set   bool
}

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	v, err := decimal.NewFromString(string(s))
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", string(s), err)
	}
	d.value, d.set = v, true
	return nil
}

// Or returns the value, or fallback's value when unset.
func (d flexDecimal) Or(fallback flexDecimal) flexDecimal {
	if d.set {
		return d
	}
	return fallback
}

// flexInt accepts an integer or integer string.
type flexInt struct {
	value int64
	set   bool
}

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(s), 64)
		if ferr != nil {
			return fmt.Errorf("invalid integer %q", string(s))
		}
		v = int64(f)
	}
	i.value, i.set = v, true
	return nil
}

func (i flexInt) Or(fallback flexInt) flexInt {
	if i.set {
		return i
	}
	return fallback
}

// epochTime normalizes an epoch value in seconds, milliseconds, microseconds
// or nanoseconds by its magnitude.
func epochTime(v int64) time.Time {
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return time.Unix(v, 0).UTC()
	case abs < 1e14:
		return time.UnixMilli(v).UTC()
	case abs < 1e17:
		return time.UnixMicro(v).UTC()
	default:
		return time.Unix(0, v).UTC()
	}
}

// timeOr returns the first set timestamp, or now.
func timeOr(now time.Time, candidates ...flexInt) time.Time {
	for _, c := range candidates {
		if c.set && c.value != 0 {
			return epochTime(c.value)
		}
	}
	return now.UTC()
}
