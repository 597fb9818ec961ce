package recognize

import (
	"encoding/json"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MeKo-Tech/docrec/internal/extract"
)

// DriverLicense holds the fields of a driver license. Nil fields were not
// recognized.
type DriverLicense struct {
	Name       *string `json:"name"`
	Patronymic *string `json:"patronymic"`
	Birthday   *Date   `json:"birthday"`

	IssueDate      *Date `json:"issue_date"`
	ExpirationDate *Date `json:"expiration_date"`

	Code *int64 `json:"code"`

	Abode *string `json:"abode"`
}

// Passport holds the identifying numbers of a passport.
type Passport struct {
	SerialNumber *string `json:"serial_number"`
	Number       *string `json:"number"`
}

// Date is a calendar day that encodes as YYYY-MM-DD.
type Date struct{ time.Time }

// MarshalJSON overrides the RFC 3339 encoding of time.Time.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}

// UnmarshalJSON parses YYYY-MM-DD.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// DriverLicenseFromRecord copies the fields a record shares with a
// driver license. Missing or absent fields stay nil.
func DriverLicenseFromRecord(rec *extract.Record) DriverLicense {
	var dl DriverLicense
	dl.Name = stringField(rec, "name")
	dl.Patronymic = stringField(rec, "patronymic")
	dl.Birthday = dateField(rec, "birthday")
	dl.IssueDate = dateField(rec, "issue_date")
	dl.ExpirationDate = dateField(rec, "expiration_date")
	if n, ok := rec.Int("code"); ok {
		dl.Code = &n
	}
	dl.Abode = stringField(rec, "abode")
	return dl
}

func stringField(rec *extract.Record, name string) *string {
	if s, ok := rec.String(name); ok {
		return &s
	}
	return nil
}

func dateField(rec *extract.Record, name string) *Date {
	if t, ok := rec.Date(name); ok {
		return &Date{t}
	}
	return nil
}

// Normalize returns a copy with Name and Patronymic title-cased
// ("САМВЕЛ ЮРЬЕВИЧ" becomes "Самвел Юрьевич").
func (d DriverLicense) Normalize() DriverLicense {
	caser := cases.Title(language.Russian)
	out := d
	if d.Name != nil {
		s := caser.String(*d.Name)
		out.Name = &s
	}
	if d.Patronymic != nil {
		s := caser.String(*d.Patronymic)
		out.Patronymic = &s
	}
	return out
}
