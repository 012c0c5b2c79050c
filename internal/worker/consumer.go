package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/zlog"
)

const (
	// DefaultTolerance допустимое раннее срабатывание, при большем разрыве триггер перевзводится
	DefaultTolerance = 5 * time.Second
	// DefaultStaleAfter после этого опоздания срабатывание отбрасывается
	DefaultStaleAfter = time.Hour
)

// ErrDeliveriesClosed канал доставок закрылся без остановки обработчика, обычно из-за потери соединения.
var ErrDeliveriesClosed = errors.New("fire deliveries channel closed")

// Source источник доставок очереди срабатываний.
type Source interface {
	Consume(queue, consumer string, prefetch int) (<-chan amqp091.Delivery, io.Closer, error)
}

// Rearmer взводит таймер для уже сохраненной регистрации.
type Rearmer interface {
	Arm(ctx context.Context, reg domain.TriggerRegistration) error
}

// Config конфигурация обработчика срабатываний.
type Config struct {
	Tolerance  time.Duration
	StaleAfter time.Duration
}

// Consumer обрабатывает события срабатывания триггеров.
type Consumer struct {
	scheduler domain.TriggerScheduler
	registry  domain.TriggerRegistry
	guard     domain.FireGuard
	rearmer   Rearmer
	source    Source
	cfg       Config
	now       func() time.Time
}

// NewConsumer создает новый экземпляр Consumer. guard может быть nil.
func NewConsumer(scheduler domain.TriggerScheduler, registry domain.TriggerRegistry, guard domain.FireGuard,
	rearmer Rearmer, source Source, cfg Config) *Consumer {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Consumer{
		scheduler: scheduler,
		registry:  registry,
		guard:     guard,
		rearmer:   rearmer,
		source:    source,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start подписывается на очередь и обрабатывает доставки в workerNum горутинах до отмены ctx.
// Начатая обработка доводится до конца и после отмены ctx. Если брокер закрыл канал доставок,
// возвращается ErrDeliveriesClosed.
func (c *Consumer) Start(ctx context.Context, queueName string, workerNum int, prefetchCount int) error {
	if workerNum <= 0 {
		workerNum = 1
	}
	if prefetchCount <= 0 {
		prefetchCount = 1
	}

	tag := "fire-consumer-" + uuid.NewString()
	deliveries, ch, err := c.source.Consume(queueName, tag, prefetchCount)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("queue", queueName).Msg("failed to start consumer")
		return err
	}
	defer func() {
		_ = ch.Close()
	}()

	zlog.Logger.Info().Str("queue", queueName).Int("workers", workerNum).Msg("fire consumer started")

	// доставка не должна обрываться на середине из-за остановки сервиса
	handleCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < workerNum; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.Handle(handleCtx, d.Body)
					if err := d.Ack(false); err != nil {
						zlog.Logger.Error().Err(err).Msg("failed to ack delivery")
					}
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() == nil {
		zlog.Logger.Error().Str("queue", queueName).Msg("fire deliveries closed by broker")
		return ErrDeliveriesClosed
	}
	zlog.Logger.Info().Str("queue", queueName).Msg("fire consumer stopped")
	return nil
}

// Handle обрабатывает одно событие срабатывания. Ошибки и паники не выходят наружу:
// доставка всегда подтверждается.
func (c *Consumer) Handle(ctx context.Context, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().Err(fmt.Errorf("panic: %v", r)).Msg("fire event handling aborted")
		}
	}()

	var ev domain.FireEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		zlog.Logger.Error().Err(err).Str("body", string(body)).Msg("failed to unmarshal fire event")
		return
	}
	logger := zlog.Logger.With().Str("reminder_id", ev.ReminderID).Int32("request_code", ev.RequestCode).
		Int64("generation", ev.Generation).Logger()

	reg, err := c.registry.GetByCode(ctx, ev.RequestCode)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Debug().Msg("registration not found, event dropped")
		return
	case err != nil:
		// без реестра нельзя проверить поколение, доставляем по событию
		logger.Warn().Err(err).Msg("failed to load registration, delivering from event")
		reg = nil
	case reg.Generation != ev.Generation:
		logger.Debug().Int64("current", reg.Generation).Msg("trigger superseded, event dropped")
		return
	case reg.FiredAt != nil:
		logger.Debug().Msg("trigger already fired, event dropped")
		return
	}

	firing, payload := ev.FiringTime, ev.Payload
	if reg != nil {
		firing, payload = reg.FiringTime, reg.Payload
	}

	now := c.now()
	if firing.Sub(now) > c.cfg.Tolerance {
		if reg == nil {
			logger.Warn().Time("firing_time", firing).Msg("early event without registration, dropped")
			return
		}
		if err := c.rearmer.Arm(ctx, *reg); err != nil {
			logger.Error().Err(err).Msg("failed to re-arm trigger")
			return
		}
		logger.Debug().Time("firing_time", firing).Msg("trigger re-armed")
		return
	}

	if late := now.Sub(firing); late > c.cfg.StaleAfter {
		logger.Info().Dur("late", late).Msg("stale trigger dropped")
		c.markFired(ctx, ev)
		return
	}

	if c.guard != nil {
		first, err := c.guard.Acquire(ctx, ev.RequestCode, ev.Generation)
		if err != nil {
			logger.Warn().Err(err).Msg("fire guard unavailable, delivering anyway")
		} else if !first {
			logger.Debug().Msg("duplicate fire event dropped")
			return
		}
	}

	c.scheduler.OnTrigger(ctx, payload)
	c.markFired(ctx, ev)
}

func (c *Consumer) markFired(ctx context.Context, ev domain.FireEvent) {
	if err := c.registry.MarkFired(ctx, ev.RequestCode, ev.Generation); err != nil {
		zlog.Logger.Error().Err(err).Str("reminder_id", ev.ReminderID).Msg("failed to mark trigger fired")
	}
}
