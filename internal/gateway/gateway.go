package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"ReminderNotifier/internal/domain"
	"ReminderNotifier/internal/timecodec"
	"github.com/wb-go/wbf/zlog"
)

const reminderPath = "/api/reminder"

// Gateway работает с напоминаниями на бэкенде через упорядоченный список транспортов.
type Gateway struct {
	transports  []Transport
	credentials domain.CredentialSource
	scheduler   domain.TriggerScheduler
}

// NewGateway создает новый экземпляр Gateway. Транспорты пробуются в переданном порядке.
func NewGateway(credentials domain.CredentialSource, scheduler domain.TriggerScheduler,
	transports ...Transport) *Gateway {
	return &Gateway{transports: transports, credentials: credentials, scheduler: scheduler}
}

// Create создает напоминание и, если у него есть id и время, передает его планировщику.
func (g *Gateway) Create(ctx context.Context, req domain.ReminderRequest) (*domain.ReminderRecord, error) {
	op := "Gateway.Create:"
	credential := g.credentials.Credential(ctx)
	if credential == "" {
		return nil, domain.ErrAuthRequired
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"title":           req.Title,
		"reminderMessage": req.Message,
		"reminderDate":    timecodec.Format(req.TargetTime),
		"scheduleId":      req.ScheduleRef,
	}
	if req.NotificationToken != "" {
		body["fcmToken"] = req.NotificationToken
	}

	var rec *domain.ReminderRecord
	call := Call{Method: http.MethodPost, Path: reminderPath, Credential: credential, Body: body}
	err := g.invoke(ctx, op, call, func(transport string, raw []byte) error {
		var err error
		rec, err = decodeRecord(transport, raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	if rec.Title == "" {
		rec.Title = req.Title
	}
	if rec.Message == "" {
		rec.Message = req.Message
	}
	if rec.ScheduleRef == "" {
		rec.ScheduleRef = req.ScheduleRef
	}

	if !rec.Schedulable() {
		// время не разобралось: напоминание создано, но триггер не ставится
		zlog.Logger.Warn().Str("reminder_id", rec.ID).Msgf("%s reminder created without resolvable time, not scheduled", op)
		return rec, nil
	}
	if g.scheduler != nil {
		decision := g.scheduler.Schedule(ctx, rec.ID, rec.Title, rec.Message, *rec.TargetTime, req.NotificationToken)
		zlog.Logger.Debug().Str("reminder_id", rec.ID).Str("decision", decision.String()).Msgf("%s scheduled", op)
	}
	return rec, nil
}

// ListAll получает все напоминания пользователя.
func (g *Gateway) ListAll(ctx context.Context) ([]domain.ReminderRecord, error) {
	credential := g.credentials.Credential(ctx)
	if credential == "" {
		return nil, domain.ErrAuthRequired
	}

	var records []domain.ReminderRecord
	call := Call{Method: http.MethodGet, Path: reminderPath, Credential: credential}
	err := g.invoke(ctx, "Gateway.ListAll:", call, func(transport string, raw []byte) error {
		var err error
		records, err = decodeList(transport, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID получает напоминание по id.
func (g *Gateway) GetByID(ctx context.Context, id string) (*domain.ReminderRecord, error) {
	return g.single(ctx, "Gateway.GetByID:", http.MethodGet, id)
}

// Delete удаляет напоминание по id.
func (g *Gateway) Delete(ctx context.Context, id string) (*domain.ReminderRecord, error) {
	return g.single(ctx, "Gateway.Delete:", http.MethodDelete, id)
}

func (g *Gateway) single(ctx context.Context, op, method, id string) (*domain.ReminderRecord, error) {
	credential := g.credentials.Credential(ctx)
	if credential == "" {
		return nil, domain.ErrAuthRequired
	}

	var rec *domain.ReminderRecord
	call := Call{Method: method, Path: reminderPath + "/" + url.PathEscape(id), Credential: credential}
	err := g.invoke(ctx, op, call, func(transport string, raw []byte) error {
		var err error
		rec, err = decodeRecord(transport, raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// invoke пробует транспорты по порядку, пока accept не примет ответ.
// Если все попытки неудачны, возвращается ошибка последней.
// ErrMalformedResponse не приводит к повтору через следующий транспорт.
func (g *Gateway) invoke(ctx context.Context, op string, call Call, accept func(transport string, raw []byte) error) error {
	if len(g.transports) == 0 {
		return domain.ErrNoTransports
	}

	var lastErr error
	for _, t := range g.transports {
		raw, err := t.Do(ctx, call)
		if err == nil {
			err = accept(t.Name(), raw)
			if err == nil {
				return nil
			}
			if errors.Is(err, domain.ErrMalformedResponse) {
				zlog.Logger.Error().Err(err).Str("transport", t.Name()).Msgf("%s %s %s", op, call.Method, call.Path)
				return err
			}
		}
		zlog.Logger.Warn().Err(err).Str("transport", t.Name()).Msgf("%s %s %s failed", op, call.Method, call.Path)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}
