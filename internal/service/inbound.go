package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/DevRickLin/feishu-chatflow/internal/queue"
)

// BatchHandler processes one drained batch of message ids
type BatchHandler interface {
	Run(ctx context.Context, ids []string) error
}

// InboundQueue is the debounce queue as seen by the scheduler
type InboundQueue interface {
	Drain(claim queue.ClaimFunc) []queue.Batch
	Evict(ttl time.Duration) int
}

// SchedulerConfig contains scheduler settings
type SchedulerConfig struct {
	PollInterval time.Duration // drain cadence
	Workers      int           // concurrent pipeline runs
	SessionTTL   time.Duration // idle sessions are forgotten after this; 0 disables
	RunTimeout   time.Duration // per pipeline run or delivery; 0 means none
}

// DefaultSchedulerConfig returns default scheduler settings
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 100 * time.Millisecond,
		Workers:      5,
		SessionTTL:   30 * time.Minute,
	}
}

// InboundScheduler drains expired batches and runs them on a bounded pool.
// A session has at most one run in flight; a batch that cannot start stays
// queued and keeps collecting until a later tick.
type InboundScheduler struct {
	queue   InboundQueue
	handler BatchHandler
	config  SchedulerConfig
	pool    *semaphore.Weighted
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	runs   sync.WaitGroup
}

// NewInboundScheduler creates a new inbound scheduler
func NewInboundScheduler(q InboundQueue, handler BatchHandler, config SchedulerConfig, logger *zap.Logger) *InboundScheduler {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	return &InboundScheduler{
		queue:    q,
		handler:  handler,
		config:   config,
		pool:     semaphore.NewWeighted(int64(config.Workers)),
		logger:   logger.Named("inbound"),
		inflight: make(map[string]struct{}),
	}
}

// Start starts the drain loop and the idle-session janitor
func (s *InboundScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.loops.Add(1)
	go s.drainLoop()

	if s.config.SessionTTL > 0 {
		s.loops.Add(1)
		go janitorLoop(s.ctx, &s.loops, s.config.SessionTTL, func() {
			if n := s.queue.Evict(s.config.SessionTTL); n > 0 {
				s.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		})
	}

	s.logger.Info("started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("workers", s.config.Workers))
}

// Stop cancels the loops and in-flight runs and waits for them to return
func (s *InboundScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.loops.Wait()
	s.runs.Wait()
	s.logger.Info("stopped")
}

// InFlight returns the number of running pipeline runs
func (s *InboundScheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *InboundScheduler) drainLoop() {
	defer s.loops.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick drains every batch that can start now and launches its run
func (s *InboundScheduler) tick() {
	// the ticker can win the select after cancellation
	if s.ctx.Err() != nil {
		return
	}
	for _, b := range s.queue.Drain(s.claim) {
		s.runs.Add(1)
		go s.run(b)
	}
}

// claim reserves a pool slot and the session's in-flight mark
func (s *InboundScheduler) claim(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[sessionKey]; busy {
		return false
	}
	if !s.pool.TryAcquire(1) {
		return false
	}
	s.inflight[sessionKey] = struct{}{}
	return true
}

func (s *InboundScheduler) release(sessionKey string) {
	s.mu.Lock()
	delete(s.inflight, sessionKey)
	s.mu.Unlock()
	s.pool.Release(1)
}

func (s *InboundScheduler) run(b queue.Batch) {
	defer s.runs.Done()
	defer s.release(b.SessionKey)

	log := s.logger.With(zap.String("session", b.SessionKey), zap.Strings("batch", b.Items))
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic",
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	ctx := s.ctx
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	started := time.Now()
	if err := s.handler.Run(ctx, b.Items); err != nil {
		log.Error("pipeline failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return
	}
	log.Debug("pipeline done", zap.Duration("elapsed", time.Since(started)))
}

// janitorLoop calls sweep every half ttl until ctx is done
func janitorLoop(ctx context.Context, wg *sync.WaitGroup, ttl time.Duration, sweep func()) {
	defer wg.Done()

	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
