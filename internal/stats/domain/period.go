package domain

import (
	"errors"
	"strings"
	"time"
)

type Period string

const (
	PeriodHourly  Period = "HOURLY"
	PeriodDaily   Period = "DAILY"
	PeriodMonthly Period = "MONTHLY"
)

var ErrInvalidPeriod = errors.New("invalid_period")

func Periods() []Period {
	return []Period{PeriodHourly, PeriodDaily, PeriodMonthly}
}

func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToUpper(strings.TrimSpace(raw))); p {
	case PeriodHourly, PeriodDaily, PeriodMonthly:
		return p, nil
	}
	return "", ErrInvalidPeriod
}

func (p Period) Valid() bool {
	_, err := ParsePeriod(string(p))
	return err == nil
}

// Truncate returns the start of the bucket containing t, in loc.
func (p Period) Truncate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	year, month, day := t.Date()
	switch p {
	case PeriodHourly:
		return time.Date(year, month, day, t.Hour(), 0, 0, 0, loc)
	case PeriodDaily:
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	case PeriodMonthly:
		return time.Date(year, month, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// Next returns the start of the bucket following start.
func (p Period) Next(start time.Time) time.Time {
	switch p {
	case PeriodHourly:
		return start.Add(time.Hour)
	case PeriodDaily:
		return start.AddDate(0, 0, 1)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	}
	return start
}

func (p Period) previous(start time.Time) time.Time {
	switch p {
	case PeriodHourly:
		return start.Add(-time.Hour)
	case PeriodDaily:
		return start.AddDate(0, 0, -1)
	case PeriodMonthly:
		return start.AddDate(0, -1, 0)
	}
	return start
}

// Window returns the half-open bucket [start, end) containing t.
func (p Period) Window(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := p.Truncate(t, loc)
	return start, p.Next(start)
}

// PreviousWindow returns the last bucket that ended at or before now.
func (p Period) PreviousWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	end := p.Truncate(now, loc)
	return p.previous(end), end
}
