package domain

import (
	"context"
	"time"
)

// CredentialSource источник bearer-токена.
type CredentialSource interface {
	// Credential возвращает токен или пустую строку, если токена нет
	Credential(ctx context.Context) string
}

// ReminderGateway интерфейс для работы с напоминаниями на бэкенде.
type ReminderGateway interface {
	Create(ctx context.Context, req ReminderRequest) (*ReminderRecord, error)
	ListAll(ctx context.Context) ([]ReminderRecord, error)
	GetByID(ctx context.Context, id string) (*ReminderRecord, error)
	Delete(ctx context.Context, id string) (*ReminderRecord, error)
}

// TriggerScheduler интерфейс планировщика триггеров.
type TriggerScheduler interface {
	// Schedule ставит триггер, доставляет сразу или отбрасывает напоминание
	Schedule(ctx context.Context, reminderID, title, message string, firingTime time.Time, token string) Decision
	// OnTrigger доставляет уведомление при срабатывании триггера
	OnTrigger(ctx context.Context, payload TriggerPayload)
}

// DeliveryTransport интерфейс отправки push-уведомлений через релей.
type DeliveryTransport interface {
	// Send отправляет одно уведомление, ok=false при любой ошибке
	Send(ctx context.Context, token, title, body string) (messageID string, ok bool)
	// SendMulticast отправляет уведомление на несколько токенов
	SendMulticast(ctx context.Context, tokens []string, title, body string) int
}

// AlarmManager интерфейс долговременных одноразовых триггеров.
type AlarmManager interface {
	// Register ставит триггер, заменяя предыдущий с тем же ключом
	Register(ctx context.Context, reg TriggerRegistration) error
}

// TriggerRegistry интерфейс хранилища регистраций триггеров.
type TriggerRegistry interface {
	// Upsert создает или заменяет регистрацию, возвращает новое поколение
	Upsert(ctx context.Context, reg TriggerRegistration) (int64, error)
	// GetByCode получает регистрацию по коду запроса
	GetByCode(ctx context.Context, code int32) (*TriggerRegistration, error)
	// MarkFired помечает поколение регистрации как сработавшее
	MarkFired(ctx context.Context, code int32, generation int64) error
	// ListOverdue получает несработавшие регистрации со временем до t
	ListOverdue(ctx context.Context, t time.Time, limit int) ([]TriggerRegistration, error)
}

// FireGuard интерфейс защиты от повторного срабатывания.
type FireGuard interface {
	// Acquire возвращает true, если срабатывание еще не обрабатывалось
	Acquire(ctx context.Context, code int32, generation int64) (bool, error)
}

// WakeHold удержание, не дающее хосту уснуть во время доставки.
type WakeHold interface {
	// Context ограничен таймаутом удержания
	Context() context.Context
	// Release освобождает удержание, повторные вызовы ничего не делают
	Release()
}

// WakeLock интерфейс получения удержания с таймаутом.
type WakeLock interface {
	Acquire(ctx context.Context, tag string, timeout time.Duration) (WakeHold, error)
}

// ReminderService интерфейс сервиса напоминаний для HTTP-слоя.
type ReminderService interface {
	// CreateAndSchedule создает напоминание на бэкенде, планирование выполняет шлюз
	CreateAndSchedule(ctx context.Context, title, message string, firingTime time.Time,
		scheduleRef, token string) (*ReminderRecord, error)
	ListReminders(ctx context.Context) ([]ReminderRecord, error)
	GetReminder(ctx context.Context, id string) (*ReminderRecord, error)
	DeleteReminder(ctx context.Context, id string) (*ReminderRecord, error)
	// SendNotification отправляет push-уведомление сразу, минуя триггеры
	SendNotification(ctx context.Context, token, title, body string) (string, error)
	SendMulticast(ctx context.Context, tokens []string, title, body string) (int, error)
}
