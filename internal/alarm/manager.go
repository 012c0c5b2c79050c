// Package alarm реализует долговременные одноразовые триггеры поверх реестра в Postgres и TTL-очередей RabbitMQ.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/wb-go/wbf/zlog"
)

// DefaultMaxDelay максимальная задержка одной TTL-очереди, дальше триггер перевзводится.
const DefaultMaxDelay = 30 * 24 * time.Hour

// Broker интерфейс брокера, который держит таймер вместо процесса.
type Broker interface {
	// Arm пересоздает очередь задержки и кладет в нее событие, которое уйдет в очередь срабатываний через delay
	Arm(ctx context.Context, queue string, delay time.Duration, body []byte) error
	// Fire публикует событие сразу в очередь срабатываний
	Fire(ctx context.Context, body []byte) error
}

// Config конфигурация менеджера триггеров.
type Config struct {
	MaxDelay time.Duration
}

// Manager регистрирует триггеры: запись в реестре плюс таймер в брокере.
type Manager struct {
	registry domain.TriggerRegistry
	broker   Broker
	maxDelay time.Duration
	now      func() time.Time
}

// NewManager создает новый экземпляр Manager.
func NewManager(registry domain.TriggerRegistry, broker Broker, cfg Config) *Manager {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	return &Manager{registry: registry, broker: broker, maxDelay: cfg.MaxDelay, now: time.Now}
}

// QueueName имя очереди задержки для кода запроса.
func QueueName(code int32) string {
	return fmt.Sprintf("trigger.%08x", uint32(code))
}

// Register сохраняет регистрацию с новым поколением и взводит таймер.
// Предыдущий триггер с тем же кодом заменяется.
func (m *Manager) Register(ctx context.Context, reg domain.TriggerRegistration) error {
	if reg.RequestCode == 0 {
		reg.RequestCode = domain.RequestCode(reg.ReminderID)
	}

	generation, err := m.registry.Upsert(ctx, reg)
	if err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	reg.Generation = generation

	return m.Arm(ctx, reg)
}

// Arm взводит таймер в брокере для сохраненной регистрации.
// Задержка больше MaxDelay обрезается, при срабатывании обработчик перевзведет триггер.
func (m *Manager) Arm(ctx context.Context, reg domain.TriggerRegistration) error {
	body, err := json.Marshal(domain.NewFireEvent(reg))
	if err != nil {
		return fmt.Errorf("marshal fire event: %w", err)
	}

	delay := reg.FiringTime.Sub(m.now())
	if delay <= 0 {
		return m.broker.Fire(ctx, body)
	}
	if delay > m.maxDelay {
		delay = m.maxDelay
	}

	if err := m.broker.Arm(ctx, QueueName(reg.RequestCode), delay, body); err != nil {
		return fmt.Errorf("arm trigger: %w", err)
	}
	zlog.Logger.Debug().Str("reminder_id", reg.ReminderID).Int64("generation", reg.Generation).
		Dur("delay", delay).Msg("trigger armed")
	return nil
}

// Fire отправляет регистрацию на срабатывание немедленно.
func (m *Manager) Fire(ctx context.Context, reg domain.TriggerRegistration) error {
	body, err := json.Marshal(domain.NewFireEvent(reg))
	if err != nil {
		return fmt.Errorf("marshal fire event: %w", err)
	}
	return m.broker.Fire(ctx, body)
}
