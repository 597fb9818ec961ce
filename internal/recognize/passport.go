package recognize

import (
	"context"
	"fmt"
	"regexp"

	"github.com/MeKo-Tech/docrec/internal/ocr"
)

// Default passport patterns.
const (
	PassportSerialPattern = `\d{2}[ \t]+\d{2}`
	PassportNumberPattern = `\d{6}`
)

// PassportByRegex finds the serial and number of a passport in the full
// text. Each pattern takes its first match independently.
type PassportByRegex struct {
	serial *regexp.Regexp
	number *regexp.Regexp
}

// NewPassportByRegex compiles the patterns; empty strings select the
// defaults.
func NewPassportByRegex(serialPattern, numberPattern string) (*PassportByRegex, error) {
	if serialPattern == "" {
		serialPattern = PassportSerialPattern
	}
	if numberPattern == "" {
		numberPattern = PassportNumberPattern
	}
	serial, err := regexp.Compile(serialPattern)
	if err != nil {
		return nil, fmt.Errorf("compile serial pattern: %w", err)
	}
	number, err := regexp.Compile(numberPattern)
	if err != nil {
		return nil, fmt.Errorf("compile number pattern: %w", err)
	}
	return &PassportByRegex{serial: serial, number: number}, nil
}

// Recognize returns the passport; patterns without a match leave their
// field nil.
func (r *PassportByRegex) Recognize(_ context.Context, resp *ocr.Response) (Passport, error) {
	var p Passport
	if loc := r.serial.FindStringIndex(resp.Text); loc != nil {
		s := resp.Text[loc[0]:loc[1]]
		p.SerialNumber = &s
	}
	if loc := r.number.FindStringIndex(resp.Text); loc != nil {
		s := resp.Text[loc[0]:loc[1]]
		p.Number = &s
	}
	return p, nil
}
