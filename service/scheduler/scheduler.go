package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kylycht/valutatrade/logging"
	"github.com/kylycht/valutatrade/metrics"
	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const JobName = "refresh_rates"

// ParseSchedule accepts either a positive number of seconds or a standard
// cron expression and returns a spec understood by cron.
func ParseSchedule(setting string) (string, error) {
	setting = strings.TrimSpace(setting)
	if v, err := strconv.Atoi(setting); err == nil {
		if v <= 0 {
			return "", fmt.Errorf("%w: schedule interval must be positive, got %d", model.ErrConfiguration, v)
		}
		return fmt.Sprintf("@every %ds", v), nil
	}
	if _, err := cron.ParseStandard(setting); err != nil {
		return "", fmt.Errorf("%w: invalid schedule %q: %v", model.ErrConfiguration, setting, err)
	}
	return setting, nil
}

// Scheduler runs the rates update on a cron schedule. A run that is still
// in progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	updater service.Updater
	timeout time.Duration // upper bound of one run, 0 means none
}

func New(setting string, updater service.Updater, timeout time.Duration) (*Scheduler, error) {
	spec, err := ParseSchedule(setting)
	if err != nil {
		return nil, err
	}

	logger := cronLogger{}
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger)),
		updater: updater,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}

	log.Info().Str("schedule", spec).Msg("scheduled rates refresh")
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running one to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn().Msg("scheduled refresh still running at shutdown")
	}
}

func (s *Scheduler) run(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	err := logging.Action(JobName, nil, func() error {
		res := s.updater.Run(ctx, "")
		if !res.Success {
			return errors.New(strings.Join(res.Errors, "; "))
		}
		return nil
	})
	metrics.UpdateJobMetrics(JobName, started, err)
	return err
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
