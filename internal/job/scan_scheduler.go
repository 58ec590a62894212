package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"benji/internal/metrics"
	"benji/internal/service"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const DefaultScanInterval = 540 * time.Second

type CycleRunner interface {
	RunCycle(ctx context.Context) (*service.CycleReport, error)
}

// ScanScheduler runs scan cycles back to back, sleeping Interval after each one finishes.
// It is started once per process.
type ScanScheduler struct {
	tracer   trace.Tracer
	runner   CycleRunner
	interval time.Duration

	once    sync.Once
	started chan struct{}
}

func NewScanScheduler(tracer trace.Tracer, runner CycleRunner, interval time.Duration) *ScanScheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &ScanScheduler{
		tracer:   tracer,
		runner:   runner,
		interval: interval,
		started:  make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled. Only the first call runs the loop; later calls log and
// return immediately.
func (s *ScanScheduler) Start(ctx context.Context) {
	first := false
	s.once.Do(func() {
		first = true
		close(s.started)
	})
	if !first {
		log.Warn().Msg("scan scheduler already started")
		return
	}
	s.loop(ctx)
}

// Started is closed once the loop has been claimed by a Start call.
func (s *ScanScheduler) Started() <-chan struct{} {
	return s.started
}

func (s *ScanScheduler) loop(ctx context.Context) {
	if s.runner == nil {
		log.Warn().Msg("scan scheduler disabled: no scanner")
		<-ctx.Done()
		return
	}

	log.Info().Dur("interval", s.interval).Msg("scan scheduler starting")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scan scheduler stopped")
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// runOnce executes a single cycle and never lets a panic escape the loop.
func (s *ScanScheduler) runOnce(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "scheduler.cycle")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			metrics.ScanCycles.WithLabelValues("panic").Inc()
			span.RecordError(fmt.Errorf("scan cycle panic: %v", r))
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("scan cycle panicked")
		}
	}()

	if _, err := s.runner.RunCycle(ctx); err != nil {
		metrics.ScanCycles.WithLabelValues("error").Inc()
		span.RecordError(err)
		log.Error().Err(err).Msg("scan cycle failed")
	}
}
