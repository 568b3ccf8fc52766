package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedules fire right after local midnight and every minute, so the
// day rollover runs even when the meter stops sending telegrams.
var DefaultSchedules = []string{"0 0 * * *", "@every 1m"}

// Scheduler turns cron schedules into ticks on a channel. The consumer
// does the actual work in its own goroutine; ticks are dropped while a
// previous one is still pending.
type Scheduler struct {
	logger    *logrus.Logger
	cron      *cron.Cron
	schedules []string
	ticks     chan time.Time
}

func NewScheduler(logger *logrus.Logger, schedules ...string) *Scheduler {
	if len(schedules) == 0 {
		schedules = DefaultSchedules
	}
	return &Scheduler{
		logger:    logger,
		cron:      cron.New(),
		schedules: schedules,
		ticks:     make(chan time.Time, 1),
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	for _, schedule := range s.schedules {
		if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.WithField("schedules", s.schedules).Debug("Scheduler started")
	return nil
}

// Ticks delivers one value per fired schedule.
func (s *Scheduler) Ticks() <-chan time.Time {
	return s.ticks
}

func (s *Scheduler) tick() {
	select {
	case s.ticks <- time.Now():
	default:
	}
}

// Stop the scheduler
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
