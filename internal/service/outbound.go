package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/queue"
)

// ReplyDeliverer sends one stored reply
type ReplyDeliverer interface {
	Deliver(ctx context.Context, replyID string) error
}

// OutboundQueue is the dispatch queue as seen by the scheduler
type OutboundQueue interface {
	PopEach() []queue.Dispatch
	Evict(ttl time.Duration) int
}

// OutboundScheduler releases at most one reply per session per tick.
// Delivery is synchronous; a failed delivery is logged and dropped.
type OutboundScheduler struct {
	queue     OutboundQueue
	deliverer ReplyDeliverer
	config    SchedulerConfig
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOutboundScheduler creates a new outbound scheduler
func NewOutboundScheduler(q OutboundQueue, deliverer ReplyDeliverer, config SchedulerConfig, logger *zap.Logger) *OutboundScheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	return &OutboundScheduler{
		queue:     q,
		deliverer: deliverer,
		config:    config,
		logger:    logger.Named("outbound"),
	}
}

// Start starts the dispatch loop and the idle-session janitor
func (s *OutboundScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.dispatchLoop()

	if s.config.SessionTTL > 0 {
		s.wg.Add(1)
		go janitorLoop(s.ctx, &s.wg, s.config.SessionTTL, func() {
			s.queue.Evict(s.config.SessionTTL)
		})
	}

	s.logger.Info("started", zap.Duration("poll_interval", s.config.PollInterval))
}

// Stop stops the scheduler after the current tick
func (s *OutboundScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("stopped")
}

func (s *OutboundScheduler) dispatchLoop() {
	defer s.wg.Done()

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

func (s *OutboundScheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	for _, d := range s.queue.PopEach() {
		s.deliver(d)
	}
}

func (s *OutboundScheduler) deliver(d queue.Dispatch) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delivery panic",
				zap.String("session", d.SessionKey),
				zap.String("reply", d.ReplyID),
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

	if err := s.deliverer.Deliver(ctx, d.ReplyID); err != nil {
		s.logger.Error("delivery failed",
			zap.String("session", d.SessionKey),
			zap.String("reply", d.ReplyID),
			zap.Error(err))
	}
}
