package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Passer runs one automation pass.
type Passer interface {
	RunOnce(ctx context.Context) (Report, error)
}

// Scheduler fires passes on a cron schedule. A pass still running when the
// next tick arrives causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Passer
	timeout time.Duration
	logger  *zap.Logger
	base    context.Context
	cancel  context.CancelFunc
}

// NewScheduler parses spec (standard five-field cron) and wires the runner.
func NewScheduler(spec string, timeout time.Duration, runner Passer, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, runner: runner, timeout: timeout, logger: logger, base: base, cancel: cancel}
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("automation: schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("automation scheduler started")
}

// Stop cancels a running pass and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()
	// Phase errors are already logged by the runner.
	_, _ = s.runner.RunOnce(ctx)
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
