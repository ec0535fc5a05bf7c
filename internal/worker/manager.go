package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/metrics"
)

// CycleRunner - то, что Manager дергает по таймеру (usecase.Dispatcher)
type CycleRunner interface {
	RunDispatchCycle(ctx context.Context) []domain.NotificationEvent
}

// Sink - именованный получатель событий (telegram, kafka)
type Sink struct {
	Name     string
	Notifier domain.Notifier
}

type Config struct {
	Interval        time.Duration
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	return c
}

type Manager struct {
	runner  CycleRunner
	sinks   []Sink
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	jobChan chan domain.NotificationEvent
}

func NewManager(runner CycleRunner, sinks []Sink, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		runner:  runner,
		sinks:   sinks,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "scheduler")),
		jobChan: make(chan domain.NotificationEvent, cfg.QueueSize),
	}
}

// Run крутит циклы рассылки до отмены ctx.
// Первый цикл - сразу, дальше по тикеру. Возвращается, когда воркеры разобрали очередь.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("starting scheduler",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("workers", m.cfg.Workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.worker(ctx, id)
		}(i)
	}

	defer func() {
		close(m.jobChan)
		wg.Wait()
		m.logger.Info("scheduler stopped")
	}()

	m.tick(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick - один цикл. Отмена ctx не обрывает уже начатый цикл.
func (m *Manager) tick(ctx context.Context) {
	events := m.runner.RunDispatchCycle(context.WithoutCancel(ctx))
	for _, ev := range events {
		select {
		case m.jobChan <- ev:
		default:
			m.logger.Warn("delivery queue overloaded, event dropped",
				slog.Int64("subscriber_id", ev.SubscriberID),
				slog.String("symbol", ev.Symbol),
			)
			m.metrics.DeliveryFailed("queue")
		}
	}
}

// worker разбирает очередь до ее закрытия, поэтому при остановке все поставленные события доставляются
func (m *Manager) worker(ctx context.Context, id int) {
	base := context.WithoutCancel(ctx)
	for ev := range m.jobChan {
		for _, sink := range m.sinks {
			m.deliver(base, sink, ev)
		}
	}
	m.logger.Debug("worker finished", slog.Int("worker_id", id))
}

func (m *Manager) deliver(ctx context.Context, sink Sink, ev domain.NotificationEvent) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DeliveryTimeout)
	defer cancel()

	if err := sink.Notifier.Notify(ctx, ev); err != nil {
		m.logger.Error("delivery failed",
			slog.String("notifier", sink.Name),
			slog.Int64("subscriber_id", ev.SubscriberID),
			slog.String("symbol", ev.Symbol),
			slog.String("err", err.Error()),
		)
		m.metrics.DeliveryFailed(sink.Name)
	}
}
