// Package sweeper переопубликовывает просроченные триггеры, чьи события потерялись по дороге.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/zlog"
)

const (
	DefaultSpec  = "@every 1m"
	DefaultGrace = time.Minute
	DefaultBatch = 100
)

// Firer отправляет регистрацию на срабатывание немедленно.
type Firer interface {
	Fire(ctx context.Context, reg domain.TriggerRegistration) error
}

// Config конфигурация sweeper.
type Config struct {
	Spec  string
	Grace time.Duration
	Batch int
}

// Sweeper периодически ищет несработавшие регистрации и публикует их события повторно.
type Sweeper struct {
	registry domain.TriggerRegistry
	firer    Firer
	cfg      Config
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper создает новый экземпляр Sweeper.
func NewSweeper(registry domain.TriggerRegistry, firer Firer, cfg Config) *Sweeper {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	return &Sweeper{registry: registry, firer: firer, cfg: cfg, now: time.Now}
}

// Start запускает периодический проход. Проходы не пересекаются.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.Spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			zlog.Logger.Error().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}
	c.Start()
	s.cron = c

	zlog.Logger.Info().Str("spec", s.cfg.Spec).Msg("sweeper started")
	return nil
}

// Stop останавливает sweeper и ждет завершения текущего прохода.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		zlog.Logger.Info().Msg("sweeper stopped")
	}
}

// Sweep делает один проход и возвращает число переопубликованных регистраций.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	regs, err := s.registry.ListOverdue(ctx, s.now().Add(-s.cfg.Grace), s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	fired := 0
	for _, reg := range regs {
		if err := s.firer.Fire(ctx, reg); err != nil {
			zlog.Logger.Error().Err(err).Str("reminder_id", reg.ReminderID).Msg("failed to refire trigger")
			continue
		}
		fired++
	}
	if fired > 0 {
		zlog.Logger.Info().Int("count", fired).Msg("overdue triggers refired")
	}
	return fired, nil
}
