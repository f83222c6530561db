package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"plexpush/internal/eventbus"
	"plexpush/internal/metrics"
	"plexpush/internal/pushcut"
	"plexpush/internal/runtime/supervisor"
	logx "plexpush/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery pipeline stopped")
)

const historySize = 300

// Service runs outbound Pushcut calls off the request path:
// queue + worker pool + provider-wide rate limit. Failed sends are logged
// and dropped; there is no retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  pushcut.Sender
	bus     eventbus.Bus
	metrics *metrics.Metrics

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Delivery
	sup      *supervisor.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender pushcut.Sender, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, metrics: m}
	s.apply(cfg)
	return s
}

func (s *Service) apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// burst = rate so a play + shortcut pair never waits.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Config returns the effective configuration after defaults.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Supervisor returns the worker supervisor, nil when not running.
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Delivery, s.cfg.QueueSize)
	s.accepting = true
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "notifier.sup"))))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return nil
			}
			return errors.New("delivery worker exited unexpectedly")
		})
	}
	s.log.Debug("delivery workers started", logx.Int("workers", workers), logx.Bool("dry_run", s.cfg.DryRun))
}

// Stop blocks intake and drains the queue until ctx is done. Whatever is
// still queued at the deadline is abandoned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Enqueue calls finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pending := len(q)
		sup.Cancel()
		if pending > 0 {
			s.log.Warn("delivery queue abandoned at shutdown", logx.Int("pending", pending))
		}
	}
}

// Enqueue hands d to a worker without blocking.
func (s *Service) Enqueue(d Delivery) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if d.QueuedAt.IsZero() {
		d.QueuedAt = time.Now()
	}

	select {
	case q <- d:
		s.publish(eventbus.TypeDeliveryQueued, d, nil)
		s.metrics.DeliveryQueued(string(d.Kind))
		s.metrics.SetQueueDepth(len(q))
		return nil
	default:
		s.publish(eventbus.TypeDeliveryDropped, d, ErrQueueFull)
		s.metrics.DeliveryResult(string(d.Kind), metrics.ResultDropped, 0)
		return ErrQueueFull
	}
}

// QueueLen returns the number of waiting deliveries.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return 0
	}
	return len(s.queue)
}

// Snapshot returns recent delivery outcomes, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-q:
			if !ok {
				return
			}
			s.metrics.SetQueueDepth(len(q))
			s.deliver(ctx, d)
		}
	}
}

func (s *Service) deliver(runCtx context.Context, d Delivery) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()

	log := s.log.With(
		logx.String("id", d.ID),
		logx.String("kind", string(d.Kind)),
		logx.String("target", d.Target),
	)

	if err := lim.Wait(runCtx); err != nil {
		return
	}

	start := time.Now()
	var err error
	switch {
	case cfg.DryRun:
		log.Info("dry run: delivery skipped", logx.Any("payload", d.Payload))
	case sender == nil:
		err = errors.New("no sender configured")
	default:
		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		err = send(callCtx, sender, d)
		cancel()
	}
	took := time.Since(start)

	it := HistoryItem{
		At:          start,
		ID:          d.ID,
		Kind:        d.Kind,
		Target:      d.Target,
		ThrottleKey: d.ThrottleKey,
		Rule:        d.Rule,
		Took:        took,
		DryRun:      cfg.DryRun,
	}
	if err != nil {
		it.Error = err.Error()
		log.Warn("delivery failed", logx.Err(err), logx.Duration("took", took))
		s.publish(eventbus.TypeDeliveryFailed, d, err)
		s.metrics.DeliveryResult(string(d.Kind), metrics.ResultFailed, took)
	} else {
		log.Debug("delivery sent", logx.Duration("took", took), logx.Duration("queued", start.Sub(d.QueuedAt)))
		s.publish(eventbus.TypeDeliverySent, d, nil)
		s.metrics.DeliveryResult(string(d.Kind), metrics.ResultSent, took)
	}
	s.appendHistory(it)
}

func send(ctx context.Context, sender pushcut.Sender, d Delivery) error {
	switch d.Kind {
	case KindShortcut:
		return sender.ExecuteShortcut(ctx, d.Target, d.Input)
	case KindNotification:
		return sender.SendNotification(ctx, d.Target, d.Payload)
	default:
		return fmt.Errorf("unknown delivery kind %q", d.Kind)
	}
}

func (s *Service) publish(typ string, d Delivery, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{ID: d.ID, Kind: d.Kind, Target: d.Target, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
