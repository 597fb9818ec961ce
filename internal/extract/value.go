package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/docrec/internal/template"
)

// DateLayout is the day.month.year pattern printed on documents. Day and
// month may have one or two digits.
const DateLayout = "2.1.2006"

// Value is a typed field value or an absent marker.
type Value struct {
	typ     template.FieldType
	present bool
	str     string
	num     int64
	flt     float64
	date    time.Time
}

// Absent returns the absent value of type t.
func Absent(t template.FieldType) Value { return Value{typ: t} }

// StringValue returns a present string value.
func StringValue(s string) Value {
	return Value{typ: template.FieldString, present: true, str: s}
}

// IntValue returns a present integer value.
func IntValue(n int64) Value {
	return Value{typ: template.FieldInteger, present: true, num: n}
}

// FloatValue returns a present float value.
func FloatValue(f float64) Value {
	return Value{typ: template.FieldFloat, present: true, flt: f}
}

// DateValue returns a present date value truncated to the day.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{typ: template.FieldDate, present: true, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Coerce converts raw to typ. Unparsable input yields Absent(typ).
func Coerce(raw string, typ template.FieldType) Value {
	switch typ {
	case template.FieldString:
		return StringValue(raw)
	case template.FieldInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Absent(typ)
		}
		return IntValue(n)
	case template.FieldFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return Absent(typ)
		}
		return FloatValue(f)
	case template.FieldDate:
		t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
		if err != nil {
			return Absent(typ)
		}
		return DateValue(t)
	default:
		return Absent(typ)
	}
}

// Type returns the declared type.
func (v Value) Type() template.FieldType { return v.typ }

// Present reports whether the field was recognized.
func (v Value) Present() bool { return v.present }

// Str returns the string value.
func (v Value) Str() (string, bool) { return v.str, v.present && v.typ == template.FieldString }

// Int returns the integer value.
func (v Value) Int() (int64, bool) { return v.num, v.present && v.typ == template.FieldInteger }

// Float returns the float value.
func (v Value) Float() (float64, bool) { return v.flt, v.present && v.typ == template.FieldFloat }

// Date returns the date value.
func (v Value) Date() (time.Time, bool) { return v.date, v.present && v.typ == template.FieldDate }

// Interface returns the Go value (string, int64, float64, time.Time) or nil
// when absent.
func (v Value) Interface() any {
	if !v.present {
		return nil
	}
	switch v.typ {
	case template.FieldString:
		return v.str
	case template.FieldInteger:
		return v.num
	case template.FieldFloat:
		return v.flt
	case template.FieldDate:
		return v.date
	}
	return nil
}

// String formats the value for display; absent values are empty.
func (v Value) String() string {
	if !v.present {
		return ""
	}
	switch v.typ {
	case template.FieldInteger:
		return strconv.FormatInt(v.num, 10)
	case template.FieldFloat:
		return strconv.FormatFloat(v.flt, 'f', -1, 64)
	case template.FieldDate:
		return v.date.Format(time.DateOnly)
	default:
		return v.str
	}
}

// MarshalJSON encodes absent values as null and dates as YYYY-MM-DD.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	switch v.typ {
	case template.FieldDate:
		return json.Marshal(v.date.Format(time.DateOnly))
	default:
		return json.Marshal(v.Interface())
	}
}
