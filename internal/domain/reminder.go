package domain

import (
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ReminderRequest параметры создания напоминания.
type ReminderRequest struct {
	Title             string `validate:"notblank"`
	Message           string
	TargetTime        time.Time `validate:"required"`
	ScheduleRef       string
	NotificationToken string
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// fieldErrors сопоставляет поле запроса с доменной ошибкой.
var fieldErrors = map[string]error{
	"Title":      ErrEmptyTitle,
	"TargetTime": ErrInvalidTargetTime,
}

// Validate проверяет параметры напоминания.
// Возвращает доменную ошибку первого непрошедшего проверку поля.
func (r ReminderRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			if derr, ok := fieldErrors[e.StructField()]; ok {
				return derr
			}
		}
	}
	return err
}

// ReminderRecord напоминание в том виде, в котором его вернул бэкенд.
// TargetTime равен nil, если дату не удалось разобрать.
type ReminderRecord struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	TargetTime    *time.Time `json:"target_time,omitempty"`
	OwnerRef      string     `json:"owner_ref,omitempty"`
	ScheduleRef   string     `json:"schedule_ref,omitempty"`
	Success       bool       `json:"success"`
	StatusMessage string     `json:"status_message,omitempty"`
}

// Schedulable сообщает, можно ли поставить триггер для напоминания.
func (r *ReminderRecord) Schedulable() bool {
	return r != nil && r.ID != "" && r.TargetTime != nil
}

// TriggerPayload данные, которые триггер передает обработчику при срабатывании.
type TriggerPayload struct {
	ReminderID string `json:"reminder_id"`
	Token      string `json:"token"`
	Title      string `json:"title"`
	Message    string `json:"message"`
}

// TriggerRegistration регистрация отложенного триггера.
type TriggerRegistration struct {
	RequestCode int32
	ReminderID  string
	FiringTime  time.Time
	Payload     TriggerPayload
	Generation  int64
	FiredAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FireEvent сообщение, которое брокер доставляет в момент срабатывания триггера.
type FireEvent struct {
	RequestCode int32          `json:"request_code"`
	Generation  int64          `json:"generation"`
	ReminderID  string         `json:"reminder_id"`
	FiringTime  time.Time      `json:"firing_time"`
	Payload     TriggerPayload `json:"payload"`
}

// NewFireEvent собирает сообщение срабатывания из регистрации.
func NewFireEvent(reg TriggerRegistration) FireEvent {
	return FireEvent{
		RequestCode: reg.RequestCode,
		Generation:  reg.Generation,
		ReminderID:  reg.ReminderID,
		FiringTime:  reg.FiringTime,
		Payload:     reg.Payload,
	}
}

// Decision результат планирования напоминания.
type Decision string

const (
	DecisionRegistered   Decision = "registered"
	DecisionDeliveredNow Decision = "delivered_now"
	DecisionDropped      Decision = "dropped"
	DecisionSkipped      Decision = "skipped"
)

// String возвращает строковое представление решения.
func (d Decision) String() string {
	return string(d)
}

// RequestCode стабильный ключ триггера, вычисляемый из id напоминания.
// Повторная регистрация того же напоминания заменяет триггер с этим ключом.
func RequestCode(reminderID string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(reminderID))
	return int32(h.Sum32())
}
