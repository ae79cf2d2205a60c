package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day. The zero value is the "missing" sentinel used
	// for feed rows whose date could not be parsed.
	Date struct {
		time.Time
	}

	// Count is a vaccination count that may be absent in the source feed.
	Count struct {
		Value int64
		Valid bool
	}

	VaccinationRecord struct {
		Location          string
		ISOCode           string
		Date              Date
		TotalVaccinations Count
	}

	// MonthKey identifies a calendar month. It renders as YYYY-MM.
	MonthKey struct {
		Year  int
		Month int // 1-12
	}
)

var (
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidMonthKey = errors.New("invalid month key")
	ErrNegativeCount   = errors.New("negative vaccination count")
	ErrInvalidCount    = errors.New("invalid vaccination count")
)

// ParseDate parses a YYYY-MM-DD string. Unparseable input yields the missing
// date rather than an error.
func ParseDate(s string) Date {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}
	}
	return Date{Time: t}
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// IsMissing reports whether the date failed to parse.
func (d Date) IsMissing() bool {
	return d.IsZero()
}

// MonthKey truncates the date to its month. ok is false for a missing date.
func (d Date) MonthKey() (MonthKey, bool) {
	if d.IsMissing() {
		return MonthKey{}, false
	}
	return MonthKey{Year: d.Year(), Month: int(d.Month())}, true
}

// Equal reports whether both dates are the same day, or both missing.
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

func (d Date) String() string {
	if d.IsMissing() {
		return ""
	}
	return d.Format(dateLayout)
}

// NewMonthKey builds a MonthKey, validating the month.
func NewMonthKey(year, month int) (MonthKey, error) {
	if month < 1 || month > 12 {
		return MonthKey{}, ErrInvalidMonth
	}
	return MonthKey{Year: year, Month: month}, nil
}

// ParseMonthKey parses YYYY-MM.
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	year, month, ok := strings.Cut(s, "-")
	if !ok || len(year) != 4 || len(month) != 2 {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonthKey, s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonthKey, s)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonthKey, s)
	}
	return NewMonthKey(y, m)
}

func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// Before reports whether k is chronologically earlier than other.
func (k MonthKey) Before(other MonthKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

// Compare returns -1, 0 or +1 in chronological order.
func (k MonthKey) Compare(other MonthKey) int {
	switch {
	case k.Before(other):
		return -1
	case other.Before(k):
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the key is unset.
func (k MonthKey) IsZero() bool {
	return k.Year == 0 && k.Month == 0
}

// MarshalText renders the key as YYYY-MM so it can be used in JSON.
func (k MonthKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MonthKey) UnmarshalText(b []byte) error {
	parsed, err := ParseMonthKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NewCount returns a present count.
func NewCount(v int64) Count {
	return Count{Value: v, Valid: true}
}

// OrZero returns the count, treating absent as zero.
func (c Count) OrZero() int64 {
	if !c.Valid {
		return 0
	}
	return c.Value
}

// ParseCount parses a total_vaccinations cell.
//
// Empty input is an absent count and not an error. Integral values written as
// floats ("1234.0") are accepted since the upstream feed exports them that way.
func ParseCount(s string) (Count, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Count{}, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return Count{}, ErrNegativeCount
		}
		return NewCount(v), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return Count{}, ErrInvalidCount
	}
	if f < 0 {
		return Count{}, ErrNegativeCount
	}
	return NewCount(int64(f)), nil
}

func (r VaccinationRecord) String() string {
	return fmt.Sprintf("%s (%s) %s", r.Location, r.ISOCode, r.Date)
}
