package scheduler

import (
	"context"
	"fmt"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/wb-go/wbf/zlog"
)

const (
	// DefaultStaleAfter после этого опоздания напоминание отбрасывается
	DefaultStaleAfter = time.Hour
	// DefaultHoldTimeout максимальное время удержания хоста при доставке
	DefaultHoldTimeout = 60 * time.Second
	// DefaultRegisterTimeout ограничение на регистрацию триггера
	DefaultRegisterTimeout = 15 * time.Second

	deliveryAttempts = 2
)

// Config конфигурация планировщика.
type Config struct {
	StaleAfter      time.Duration
	HoldTimeout     time.Duration
	RegisterTimeout time.Duration
}

// Option функция настройки планировщика.
type Option func(*Scheduler)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// Scheduler превращает время напоминания в долговременный триггер и доставляет уведомление при срабатывании.
type Scheduler struct {
	alarms domain.AlarmManager
	relay  domain.DeliveryTransport
	wake   domain.WakeLock
	cfg    Config
	now    func() time.Time
}

// NewScheduler создает новый экземпляр Scheduler.
func NewScheduler(alarms domain.AlarmManager, relay domain.DeliveryTransport, wake domain.WakeLock,
	cfg Config, opts ...Option) *Scheduler {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = DefaultHoldTimeout
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
	s := &Scheduler{alarms: alarms, relay: relay, wake: wake, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule решает судьбу напоминания: ставит триггер, доставляет сразу или отбрасывает.
// Никогда не возвращает ошибку: создание напоминания не откатывается из-за планирования.
func (s *Scheduler) Schedule(ctx context.Context, reminderID, title, message string,
	firingTime time.Time, token string) domain.Decision {
	op := "Scheduler.Schedule:"
	logger := zlog.Logger.With().Str("reminder_id", reminderID).Time("firing_time", firingTime).Logger()

	if token == "" {
		logger.Warn().Msgf("%s empty notification token, reminder will not be delivered", op)
		return domain.DecisionSkipped
	}
	if reminderID == "" {
		logger.Warn().Msgf("%s empty reminder id", op)
		return domain.DecisionSkipped
	}

	payload := domain.TriggerPayload{ReminderID: reminderID, Token: token, Title: title, Message: message}
	now := s.now()

	if !firingTime.After(now) {
		late := now.Sub(firingTime)
		if late < s.cfg.StaleAfter {
			logger.Info().Dur("late", late).Msgf("%s firing time just passed, delivering now", op)
			s.OnTrigger(context.WithoutCancel(ctx), payload)
			return domain.DecisionDeliveredNow
		}
		logger.Info().Dur("late", late).Msgf("%s firing time is stale, reminder dropped", op)
		return domain.DecisionDropped
	}

	reg := domain.TriggerRegistration{
		RequestCode: domain.RequestCode(reminderID),
		ReminderID:  reminderID,
		FiringTime:  firingTime,
		Payload:     payload,
	}
	// регистрация не должна прерываться вместе с запросом вызывающего
	regCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RegisterTimeout)
	defer cancel()
	if err := s.alarms.Register(regCtx, reg); err != nil {
		logger.Error().Err(err).Msgf("%s failed to register trigger", op)
		return domain.DecisionSkipped
	}

	logger.Debug().Int32("request_code", reg.RequestCode).Msgf("%s trigger registered", op)
	return domain.DecisionRegistered
}

// OnTrigger доставляет уведомление под удержанием хоста: одна попытка и один повтор.
// Все ошибки и паники гасятся здесь, наружу ничего не уходит.
func (s *Scheduler) OnTrigger(ctx context.Context, payload domain.TriggerPayload) {
	op := "Scheduler.OnTrigger:"
	logger := zlog.Logger.With().Str("reminder_id", payload.ReminderID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Err(fmt.Errorf("panic: %v", r)).Msgf("%s delivery aborted", op)
		}
	}()

	hold, err := s.wake.Acquire(ctx, "reminder:"+payload.ReminderID, s.cfg.HoldTimeout)
	if err != nil {
		logger.Warn().Err(err).Msgf("%s wake hold unavailable, delivering without it", op)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HoldTimeout)
		defer cancel()
	} else {
		defer hold.Release()
		ctx = hold.Context()
	}

	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		messageID, ok := s.relay.Send(ctx, payload.Token, payload.Title, payload.Message)
		if ok {
			logger.Info().Str("message_id", messageID).Int("attempt", attempt).Msgf("%s notification delivered", op)
			return
		}
		logger.Warn().Int("attempt", attempt).Msgf("%s delivery attempt failed", op)
		if ctx.Err() != nil {
			break
		}
	}
	logger.Error().Msgf("%s notification dropped after %d attempts", op, deliveryAttempts)
}
