// Package engine runs the bridge loop: it reads telegrams, drives the
// accumulator, persists baselines and publishes every mapped and derived
// value.
//
// All state lives in one goroutine. Telegrams and scheduler ticks are
// handed to it over channels, so the accumulator needs no locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/dsmr2mqtt/internal/accumulator"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/database"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/mapper"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/metrics"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/models"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/persistence"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/publisher"
	"github.com/tejusbharadwaj/dsmr2mqtt/internal/telegram"
)

// ReadAtLayout formats the gas read_at payload.
const ReadAtLayout = "2006-01-02 15:04:05"

const unmappedCacheSize = 256

// Fields feeding a cumulative counter.
var counterFields = map[string]accumulator.Category{
	"ELECTRICITY_USED_TARIFF_1":      accumulator.ConsumptionLow,
	"ELECTRICITY_USED_TARIFF_2":      accumulator.ConsumptionHigh,
	"ELECTRICITY_DELIVERED_TARIFF_1": accumulator.DeliveryLow,
	"ELECTRICITY_DELIVERED_TARIFF_2": accumulator.DeliveryHigh,
	"HOURLY_GAS_METER_READING":       accumulator.Gas,
}

var dayTopics = map[accumulator.Category]string{
	accumulator.ConsumptionLow:  mapper.TopicDayElectricity1,
	accumulator.ConsumptionHigh: mapper.TopicDayElectricity2,
	accumulator.DeliveryLow:     mapper.TopicDayElectricity1Returned,
	accumulator.DeliveryHigh:    mapper.TopicDayElectricity2Returned,
	accumulator.Gas:             mapper.TopicDayGas,
}

// StatusReporter is told whether the loop is running.
type StatusReporter interface {
	SetServing(serving bool)
}

// Options tune the engine.
type Options struct {
	// ReportInterval is the minimum spacing between processed telegrams.
	// Zero processes every telegram.
	ReportInterval time.Duration
	// GasInterval is the debounce of the gas flow rate.
	GasInterval time.Duration
	// DailyMerged enables the merged day-consumption topics.
	DailyMerged bool
	// Location decides where a calendar day starts. nil means time.Local.
	Location *time.Location
}

// Deps are the collaborators of the engine. Store, History, Metrics and
// Status are optional.
type Deps struct {
	Mapper    *mapper.Mapper
	Publisher publisher.Publisher
	Store     persistence.SnapshotStore
	History   database.HistoryRepository
	Metrics   *metrics.Metrics
	Status    StatusReporter
	Logger    *logrus.Logger
}

// Engine owns the accumulator and everything derived from it.
type Engine struct {
	opts Options

	mapper  *mapper.Mapper
	pub     publisher.Publisher
	store   persistence.SnapshotStore
	history database.HistoryRepository
	metrics *metrics.Metrics
	status  StatusReporter
	logger  *logrus.Logger

	acc      *accumulator.Accumulator
	gate     *rate.Limiter
	unmapped *lru.Cache
	behind   models.Day

	now func() time.Time
}

// New creates an Engine and restores the baselines from the store.
func New(opts Options, deps Deps) (*Engine, error) {
	return newEngine(opts, deps, time.Now)
}

func newEngine(opts Options, deps Deps, now func() time.Time) (*Engine, error) {
	if deps.Mapper == nil || deps.Publisher == nil || deps.Logger == nil {
		return nil, errors.New("engine: mapper, publisher and logger are required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Store == nil {
		deps.Store = persistence.NopStore{}
	}

	unmapped, err := lru.New(unmappedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create unmapped field cache: %w", err)
	}

	limit := rate.Inf
	if opts.ReportInterval > 0 {
		limit = rate.Every(opts.ReportInterval)
	}

	e := &Engine{
		opts:     opts,
		mapper:   deps.Mapper,
		pub:      deps.Publisher,
		store:    deps.Store,
		history:  deps.History,
		metrics:  deps.Metrics,
		status:   deps.Status,
		logger:   deps.Logger,
		gate:     rate.NewLimiter(limit, 1),
		unmapped: unmapped,
		now:      now,
	}
	e.restore()
	return e, nil
}

func (e *Engine) restore() {
	today := e.today(e.now())
	snapshot, ok := e.store.Load()
	if !ok {
		e.logger.Info("No usable baseline snapshot, starting fresh")
		e.acc = accumulator.New(today, nil)
		return
	}

	marker := today
	if day, ok := snapshot.Day(e.opts.Location); ok {
		marker = day
	}
	e.acc = accumulator.New(marker, snapshot.Baselines())
	e.logger.WithFields(logrus.Fields{
		"file_date": snapshot.FileDate,
		"day":       marker.String(),
	}).Info("Restored baselines")
}

func (e *Engine) today(t time.Time) models.Day {
	return models.DayOf(t.In(e.opts.Location))
}

type sourceResult struct {
	telegram models.Telegram
	err      error
}

// Run processes telegrams from src and rollover ticks until ctx is
// cancelled or src fails. Cancellation returns nil; a non-decode source
// error is returned. The snapshot is saved on the way out.
func (e *Engine) Run(ctx context.Context, src telegram.Source, ticks <-chan time.Time) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telegrams := make(chan sourceResult)
	go func() {
		for {
			t, err := src.Next(ctx)
			select {
			case telegrams <- sourceResult{telegram: t, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, telegram.ErrDecode) {
				return
			}
		}
	}()

	e.setServing(true)
	defer e.setServing(false)
	defer e.saveSnapshot()

	e.logger.Info("Engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping")
			return nil

		case <-ticks:
			e.CheckRollover(ctx, e.now())

		case r := <-telegrams:
			if r.err != nil {
				if errors.Is(r.err, telegram.ErrDecode) {
					e.logger.WithError(r.err).Warn("Skipping malformed telegram")
					if e.metrics != nil {
						e.metrics.DecodeErrors.Inc()
					}
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("telegram source failed: %w", r.err)
			}
			e.HandleTelegram(ctx, r.telegram)
		}
	}
}

// HandleTelegram runs the rollover check and, when the report interval has
// elapsed, maps and publishes the telegram.
func (e *Engine) HandleTelegram(ctx context.Context, t models.Telegram) {
	now := t.ReceivedAt
	if now.IsZero() {
		now = e.now()
	}
	if e.metrics != nil {
		e.metrics.TelegramsReceived.Inc()
	}

	e.CheckRollover(ctx, now)

	if !e.gate.AllowN(now, 1) {
		if e.metrics != nil {
			e.metrics.TelegramsThrottled.Inc()
		}
		return
	}

	log := e.logger.WithField("telegram_id", uuid.NewString())
	for _, f := range t.Fields {
		e.handleField(ctx, log, f, now)
	}

	if e.opts.DailyMerged {
		e.publish(ctx, log, mapper.TopicDayElectricityMerged, e.acc.MergedDailyTotal(accumulator.Consumption))
		e.publish(ctx, log, mapper.TopicDayReturnedMerged, e.acc.MergedDailyTotal(accumulator.Delivery))
	}

	if e.metrics != nil {
		e.metrics.TelegramsProcessed.Inc()
	}
	log.WithField("fields", len(t.Fields)).Debug("Telegram processed")
}

func (e *Engine) handleField(ctx context.Context, log *logrus.Entry, f models.Field, now time.Time) {
	res, err := e.mapper.Map(f.ID, f.Value)
	if err != nil {
		log.WithError(err).WithField("field", f.ID).Warn("Skipping field")
		e.countField("malformed")
		return
	}
	e.countField(res.Kind.String())

	switch res.Kind {
	case mapper.Unmapped:
		if ok, _ := e.unmapped.ContainsOrAdd(f.ID, struct{}{}); !ok {
			log.WithFields(logrus.Fields{
				"field": f.ID,
				"value": f.Value,
			}).Warn("Unmapped telegram field")
		}
		return
	case mapper.Ignored:
		return
	}

	category, tracked := counterFields[f.ID]
	reading, numeric := res.Value.Decimal()
	if tracked && numeric && category == accumulator.Gas {
		e.send(ctx, log, models.Reading{
			Topic: e.mapper.Topic(mapper.TopicGasReadAt),
			Value: models.TextValue(now.In(e.opts.Location).Format(ReadAtLayout)),
		})
		if r, ok := e.acc.UpdateFlowRate(reading, now, e.opts.GasInterval); ok {
			e.publish(ctx, log, mapper.TopicGasCurrentlyDeliver, r)
		}
	}

	e.send(ctx, log, res.Reading)

	if tracked && numeric {
		delta := e.acc.UpdateCumulativeCounter(category, reading)
		e.publish(ctx, log, dayTopics[category], delta)
	}
}

// CheckRollover closes the current day when the calendar date of now
// differs from the stored marker.
func (e *Engine) CheckRollover(ctx context.Context, now time.Time) {
	today := e.today(now)
	if today.Before(e.acc.Today()) {
		if today != e.behind {
			e.behind = today
			e.logger.WithFields(logrus.Fields{
				"clock_day": today.String(),
				"today":     e.acc.Today().String(),
			}).Warn("Wall clock is behind the current day, rollover postponed")
		}
		return
	}

	totals, ok := e.acc.Rollover(today)
	if !ok {
		return
	}
	if e.metrics != nil {
		e.metrics.Rollovers.Inc()
	}

	log := e.logger.WithFields(logrus.Fields{
		"closed_day": totals.Day.String(),
		"today":      e.acc.Today().String(),
	})
	log.Info("Day rollover")

	for _, c := range accumulator.Categories {
		e.publish(ctx, log, dayTopics[c], totals.Delta(c))
	}
	if e.opts.DailyMerged {
		e.publish(ctx, log, mapper.TopicDayElectricityMerged, totals.ElectricityMerged)
		e.publish(ctx, log, mapper.TopicDayReturnedMerged, totals.ReturnedMerged)
	}

	e.saveSnapshotAt(now)

	if e.history != nil && totals.Observed {
		if err := e.history.RecordDay(ctx, database.RecordFromTotals(totals, now)); err != nil {
			log.WithError(err).Error("Failed to record closed day")
			if e.metrics != nil {
				e.metrics.HistoryFailures.Inc()
			}
		}
	}
}

func (e *Engine) saveSnapshot() {
	e.saveSnapshotAt(e.now())
}

func (e *Engine) saveSnapshotAt(now time.Time) {
	if err := e.store.Save(persistence.FromBaselines(e.acc.Baselines()), now); err != nil {
		e.logger.WithError(err).Error("Failed to save baseline snapshot")
		if e.metrics != nil {
			e.metrics.SnapshotSaveFailures.Inc()
		}
	}
}

// publish sends a derived decimal under a topic relative to the root.
func (e *Engine) publish(ctx context.Context, log *logrus.Entry, relative string, v decimal.Decimal) {
	e.send(ctx, log, models.Reading{
		Topic: e.mapper.Topic(relative),
		Value: models.FixedValue(v, accumulator.Precision),
	})
}

func (e *Engine) send(ctx context.Context, log *logrus.Entry, r models.Reading) {
	start := time.Now()
	err := e.pub.Publish(ctx, r.Topic, r.Value.String())
	if e.metrics != nil {
		e.metrics.ObservePublish(start, err)
	}
	if err != nil {
		log.WithError(err).WithField("topic", r.Topic).Warn("Publish failed")
	}
}

func (e *Engine) countField(result string) {
	if e.metrics != nil {
		e.metrics.Fields.WithLabelValues(result).Inc()
	}
}

func (e *Engine) setServing(serving bool) {
	if e.status != nil {
		e.status.SetServing(serving)
	}
}

// Today returns the current-day marker.
func (e *Engine) Today() models.Day {
	return e.acc.Today()
}
