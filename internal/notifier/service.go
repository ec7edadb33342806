package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wavebot/internal/transport"
	"wavebot/pkg/logx"
)

var ErrQueueFull = errors.New("notifier: queue full")

type Config struct {
	Workers   int
	QueueSize int
	// RatePerSec bounds outgoing sends across all workers.
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration // cap on a single backoff sleep
}

func DefaultConfig() Config {
	return Config{
		Workers:       2,
		QueueSize:     128,
		RatePerSec:    20,
		RetryMax:      2,
		RetryBase:     500 * time.Millisecond,
		RetryMaxDelay: 5 * time.Second,
	}
}

// Service delivers notifications asynchronously: producers enqueue and move
// on, workers send with rate limiting and a short bounded retry. A
// notification that exhausts its retries is logged and dropped.
type Service struct {
	cfg     Config
	adapter transport.Adapter
	log     logx.Logger

	limiter *rate.Limiter
	queue   chan transport.Notification

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	return &Service{
		cfg:     cfg,
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		queue:   make(chan transport.Notification, cfg.QueueSize),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker(ctx)
		}
	})
}

// Stop cancels the workers and waits for them. Queued items that no worker
// picked up are dropped.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Notify enqueues without blocking. Full queue is the producer's problem to
// log, not to wait on.
func (s *Service) Notify(n transport.Notification) error {
	select {
	case s.queue <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n transport.Notification) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			if !s.sleepBackoff(ctx, attempt) {
				return
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		_, err := s.adapter.SendText(ctx, n.Target, n.Text, n.Options)
		if err == nil {
			if !s.log.IsZero() {
				s.log.Debug("notification delivered",
					logx.String("kind", n.Kind),
					logx.Int64("chat_id", n.Target.ChatID))
			}
			return
		}
		lastErr = err
	}
	if !s.log.IsZero() {
		s.log.Error("notification dropped",
			logx.String("kind", n.Kind),
			logx.Int64("chat_id", n.Target.ChatID),
			logx.Int("attempts", s.cfg.RetryMax+1),
			logx.Err(lastErr))
	}
}

// sleepBackoff waits base*2^(attempt-1) plus up to 25% jitter, capped.
func (s *Service) sleepBackoff(ctx context.Context, attempt int) bool {
	d := s.cfg.RetryBase << (attempt - 1)
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	d += time.Duration(rand.Int63n(int64(d)/4 + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
