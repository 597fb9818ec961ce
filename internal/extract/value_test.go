package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/docrec/internal/template"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		typ     template.FieldType
		present bool
		want    any
	}{
		{"date", "23.09.2015", template.FieldDate, true, time.Date(2015, 9, 23, 0, 0, 0, 0, time.UTC)},
		{"date single digits", "1.7.1980", template.FieldDate, true, time.Date(1980, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"date invalid day", "32.01.2020", template.FieldDate, false, nil},
		{"date wrong separator", "2015-09-23", template.FieldDate, false, nil},
		{"integer", "2322803756", template.FieldInteger, true, int64(2322803756)},
		{"integer signed", "-15", template.FieldInteger, true, int64(-15)},
		{"integer letters", "abc", template.FieldInteger, false, nil},
		{"integer with space", "23 22", template.FieldInteger, false, nil},
		{"integer empty", "", template.FieldInteger, false, nil},
		{"float", "3.25", template.FieldFloat, true, 3.25},
		{"float integer text", "7", template.FieldFloat, true, 7.0},
		{"float comma", "3,25", template.FieldFloat, false, nil},
		{"float inf", "inf", template.FieldFloat, false, nil},
		{"float signed infinity", "-Infinity", template.FieldFloat, false, nil},
		{"float nan", "NaN", template.FieldFloat, false, nil},
		{"float overflow", "1e400", template.FieldFloat, false, nil},
		{"string", "ХАНТЫ", template.FieldString, true, "ХАНТЫ"},
		{"string empty", "", template.FieldString, true, ""},
		{"unknown type", "x", template.FieldType("blob"), false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Coerce(tt.raw, tt.typ)
			assert.Equal(t, tt.present, v.Present())
			assert.Equal(t, tt.typ, v.Type())
			assert.Equal(t, tt.want, v.Interface())
		})
	}
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "2015-09-23", Coerce("23.09.2015", template.FieldDate).String())
	assert.Equal(t, "42", IntValue(42).String())
	assert.Equal(t, "0.5", FloatValue(0.5).String())
	assert.Equal(t, "", Absent(template.FieldDate).String())
}

func TestValueAccessorsCheckType(t *testing.T) {
	v := IntValue(5)
	_, ok := v.Str()
	assert.False(t, ok)
	n, ok := v.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	_, ok = Absent(template.FieldInteger).Int()
	assert.False(t, ok)
}

func TestStripLatin(t *testing.T) {
	assert.Equal(t, "БАБАЯН", StripLatin("  БАБАЯН BABAYAN "))
	assert.Equal(t, "4) 23.09.2015", StripLatin("4a) 23.09.2015"))
	assert.Equal(t, "", StripLatin("SAMVEL"))
	assert.Equal(t, "'", StripLatin("YUR'YEVICH"))
	assert.Equal(t, "ХАНТЫ - МАНСИЙСКИЙ", StripLatin("ХАНТЫ - МАНСИЙСКИЙ"))
}

func TestCoerceNonFiniteEncodesAsNull(t *testing.T) {
	for _, raw := range []string{"inf", "+Inf", "nan"} {
		data, err := json.Marshal(Coerce(raw, template.FieldFloat))
		if assert.NoError(t, err, raw) {
			assert.Equal(t, "null", string(data), raw)
		}
	}
}
