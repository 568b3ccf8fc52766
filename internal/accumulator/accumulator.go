// Package accumulator turns cumulative meter counters into daily deltas and
// an instantaneous gas flow rate, and performs the once-per-day rollover.
//
// The Accumulator is not safe for concurrent use; it is owned by the engine
// loop goroutine.
package accumulator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
)

// Category is one tariff channel (or the gas counter) tracked by the accumulator.
type Category int

const (
	ConsumptionLow Category = iota
	ConsumptionHigh
	DeliveryLow
	DeliveryHigh
	Gas

	numCategories
)

// Categories lists every tracked category in a stable order.
var Categories = [numCategories]Category{ConsumptionLow, ConsumptionHigh, DeliveryLow, DeliveryHigh, Gas}

func (c Category) String() string {
	switch c {
	case ConsumptionLow:
		return "consumption_low"
	case ConsumptionHigh:
		return "consumption_high"
	case DeliveryLow:
		return "delivery_low"
	case DeliveryHigh:
		return "delivery_high"
	case Gas:
		return "gas"
	default:
		return "unknown"
	}
}

// Kind selects the pair of tariff channels summed by MergedDailyTotal.
type Kind int

const (
	Consumption Kind = iota
	Delivery
)

// Precision is the number of decimals published for merged totals and rates.
const Precision = 3

var secondsPerHour = decimal.NewFromInt(3600)

type counter struct {
	baseline    decimal.Decimal
	hasBaseline bool
	latest      decimal.Decimal
	hasLatest   bool
	delta       decimal.Decimal
}

type sample struct {
	value decimal.Decimal
	at    time.Time
}

// Accumulator holds the per-day state derived from cumulative readings.
type Accumulator struct {
	counters [numCategories]counter

	gasSample *sample
	rate      decimal.Decimal
	hasRate   bool

	today    models.Day
	observed bool
}

// New creates an Accumulator for the given current day. Categories missing
// from baselines start without a baseline; their first reading becomes the
// baseline.
func New(today models.Day, baselines map[Category]decimal.Decimal) *Accumulator {
	a := &Accumulator{today: today}
	for c, v := range baselines {
		if c < 0 || c >= numCategories {
			continue
		}
		a.counters[c].baseline = v
		a.counters[c].hasBaseline = true
	}
	return a
}

// Today returns the current-day marker.
func (a *Accumulator) Today() models.Day {
	return a.today
}

// UpdateCumulativeCounter records a cumulative reading and returns today's
// delta for the category. The delta is never negative.
func (a *Accumulator) UpdateCumulativeCounter(c Category, reading decimal.Decimal) decimal.Decimal {
	ctr := &a.counters[c]
	ctr.latest = reading
	ctr.hasLatest = true
	a.observed = true

	if !ctr.hasBaseline {
		ctr.baseline = reading
		ctr.hasBaseline = true
		ctr.delta = decimal.Zero
		return ctr.delta
	}

	if reading.LessThan(ctr.baseline) {
		// meter reset or replacement
		ctr.baseline = reading
		ctr.delta = decimal.Zero
		return ctr.delta
	}

	ctr.delta = reading.Sub(ctr.baseline)
	return ctr.delta
}

// UpdateFlowRate derives a per-hour gas rate from two samples spaced at
// least debounce apart. ok is false until a rate has been computed.
func (a *Accumulator) UpdateFlowRate(reading decimal.Decimal, now time.Time, debounce time.Duration) (rate decimal.Decimal, ok bool) {
	if a.gasSample == nil {
		a.gasSample = &sample{value: reading, at: now}
		return decimal.Zero, false
	}
	if now.Sub(a.gasSample.at) < debounce {
		return a.rate, a.hasRate
	}

	seconds := decimal.NewFromFloat(debounce.Seconds())
	r := decimal.Zero
	if seconds.IsPositive() {
		r = reading.Sub(a.gasSample.value).Mul(secondsPerHour).Div(seconds).Round(Precision)
	}
	if r.IsNegative() {
		r = decimal.Zero
	}

	a.gasSample = &sample{value: reading, at: now}
	a.rate = r
	a.hasRate = true
	return a.rate, true
}

// Delta returns today's delta for a category.
func (a *Accumulator) Delta(c Category) decimal.Decimal {
	return a.counters[c].delta
}

// MergedDailyTotal sums the low and high tariff deltas of kind.
func (a *Accumulator) MergedDailyTotal(k Kind) decimal.Decimal {
	low, high := ConsumptionLow, ConsumptionHigh
	if k == Delivery {
		low, high = DeliveryLow, DeliveryHigh
	}
	return a.counters[low].delta.Add(a.counters[high].delta).Round(Precision)
}

// Totals snapshots the current daily figures.
func (a *Accumulator) Totals() DailyTotals {
	t := DailyTotals{
		Day:               a.today,
		Observed:          a.observed,
		ElectricityMerged: a.MergedDailyTotal(Consumption),
		ReturnedMerged:    a.MergedDailyTotal(Delivery),
	}
	for _, c := range Categories {
		t.Deltas[c] = a.counters[c].delta
	}
	return t
}

// Rollover closes the current day when today is later than the stored
// marker. It returns the totals of the closed day and true; the caller
// must persist the new baselines. Calling it again for the same day, or
// for an earlier day after the wall clock stepped back, is a no-op
// returning false.
func (a *Accumulator) Rollover(today models.Day) (DailyTotals, bool) {
	if !a.today.Before(today) {
		return DailyTotals{}, false
	}

	closed := a.Totals()

	for i := range a.counters {
		ctr := &a.counters[i]
		if ctr.hasLatest {
			ctr.baseline = ctr.latest
			ctr.hasBaseline = true
		} else {
			// no reading since startup: the stored baseline belongs to an
			// earlier day, the next reading starts a fresh one
			ctr.hasBaseline = false
		}
		ctr.delta = decimal.Zero
	}
	a.today = today
	a.observed = false

	return closed, true
}

// Baselines returns the day-start baselines that are currently known.
func (a *Accumulator) Baselines() map[Category]decimal.Decimal {
	out := make(map[Category]decimal.Decimal, numCategories)
	for _, c := range Categories {
		if a.counters[c].hasBaseline {
			out[c] = a.counters[c].baseline
		}
	}
	return out
}

// DailyTotals is a snapshot of one day's deltas.
type DailyTotals struct {
	Day               models.Day
	Deltas            [numCategories]decimal.Decimal
	ElectricityMerged decimal.Decimal
	ReturnedMerged    decimal.Decimal

	// Observed is false when no counter reading arrived during the day,
	// e.g. a day closed right after a restart.
	Observed bool
}

// Delta returns the delta of category c.
func (t DailyTotals) Delta(c Category) decimal.Decimal {
	return t.Deltas[c]
}
