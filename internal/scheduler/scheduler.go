// Package scheduler runs the recovery jobs: a periodic geofence evaluation
// against a fixed position and a photo directory sweep. Both exist to catch
// events that fired while the process was down; real-time triggers stay with
// the trigger package.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"relay/internal/logging"
	"relay/internal/trigger"
)

// Config holds scheduler configuration. Cron expressions use the standard
// five-field form; an empty expression disables that job.
type Config struct {
	Enabled       bool
	GeofenceCron  string
	PhotoCron     string
	FixedLatitude float64
	FixedLongitud float64
}

// Scheduler manages the periodic jobs using robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	config    Config
	geofences *trigger.GeofenceTrigger
	photos    *trigger.PhotoWatcher
	logger    logging.Logger
	stopOnce  sync.Once
}

// New builds a scheduler. Jobs that are still running when their next tick
// arrives are skipped, not queued.
func New(cfg Config, geofences *trigger.GeofenceTrigger, photos *trigger.PhotoWatcher, logger logging.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{
		cron:      c,
		config:    cfg,
		geofences: geofences,
		photos:    photos,
		logger:    logging.OrNop(logger),
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("scheduler disabled by config")
		return nil
	}

	if s.config.GeofenceCron != "" && s.geofences != nil {
		_, err := s.cron.AddFunc(s.config.GeofenceCron, func() {
			s.logger.Debug("scheduled geofence evaluation at %.5f,%.5f", s.config.FixedLatitude, s.config.FixedLongitud)
			s.geofences.EvaluateNow(ctx, s.config.FixedLatitude, s.config.FixedLongitud)
		})
		if err != nil {
			return err
		}
	}

	if s.config.PhotoCron != "" && s.photos != nil {
		_, err := s.cron.AddFunc(s.config.PhotoCron, func() {
			s.logger.Debug("scheduled photo sweep")
			s.photos.Sweep(ctx)
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started with %d jobs", len(s.cron.Entries()))
	return nil
}

// Stop halts the cron loop; running jobs finish on their own.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cron.Stop()
	})
}

// Entries reports the number of registered jobs, for tests.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
