package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Field is one raw (identifier, value) pair as delivered by the meter.
type Field struct {
	ID    string
	Value string
}

// Telegram represents one atomic batch of raw meter fields
type Telegram struct {
	Fields     []Field
	ReceivedAt time.Time
}

// Value is a normalized reading value, either an exact decimal or free text.
type Value struct {
	text    string
	number  decimal.Decimal
	numeric bool
}

func NumberValue(d decimal.Decimal) Value {
	return Value{number: d, numeric: true}
}

func TextValue(s string) Value {
	return Value{text: s}
}

// FixedValue is a numeric value rendered with exactly places decimals.
func FixedValue(d decimal.Decimal, places int32) Value {
	return Value{text: d.StringFixed(places), number: d, numeric: true}
}

// Decimal returns the numeric value and whether the value is numeric at all.
func (v Value) Decimal() (decimal.Decimal, bool) {
	return v.number, v.numeric
}

// String renders the value as the bus payload. Numbers keep the decimals
// they were parsed with, so "000123.400" renders as "123.400".
func (v Value) String() string {
	if v.numeric && v.text == "" {
		if exp := v.number.Exponent(); exp < 0 {
			return v.number.StringFixed(-exp)
		}
		return v.number.String()
	}
	return v.text
}

// Reading represents a single normalized measurement under its canonical topic
type Reading struct {
	Topic string
	Value Value
}

// Day is a calendar date in the local time zone of the process.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar date of t in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Before reports whether d is an earlier calendar date than o.
func (d Day) Before(o Day) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// Start returns midnight of the day in loc.
func (d Day) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}
