package service

import (
	"context"
	"strings"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/wb-go/wbf/zlog"
)

// ReminderService точка входа для создания напоминаний и прямой отправки уведомлений.
type ReminderService struct {
	gateway domain.ReminderGateway
	relay   domain.DeliveryTransport
}

// NewReminderService создает новый экземпляр ReminderService.
func NewReminderService(gateway domain.ReminderGateway, relay domain.DeliveryTransport) *ReminderService {
	return &ReminderService{gateway: gateway, relay: relay}
}

// CreateAndSchedule создает напоминание. Триггер ставит шлюз после успешного создания.
func (s *ReminderService) CreateAndSchedule(ctx context.Context, title, message string, firingTime time.Time,
	scheduleRef, token string) (*domain.ReminderRecord, error) {
	op := "CreateAndSchedule:"
	req := domain.ReminderRequest{
		Title:             title,
		Message:           message,
		TargetTime:        firingTime,
		ScheduleRef:       scheduleRef,
		NotificationToken: token,
	}

	rec, err := s.gateway.Create(ctx, req)
	if err != nil {
		zlog.Logger.Error().Msgf("%s failed to create reminder: %v", op, err)
		return nil, err
	}
	if rec.TargetTime == nil {
		zlog.Logger.Warn().Msgf("%s reminder %s created without resolvable time, not scheduled", op, rec.ID)
	}
	return rec, nil
}

func (s *ReminderService) ListReminders(ctx context.Context) ([]domain.ReminderRecord, error) {
	recs, err := s.gateway.ListAll(ctx)
	if err != nil {
		zlog.Logger.Error().Msgf("ListReminders: %v", err)
		return nil, err
	}
	return recs, nil
}

func (s *ReminderService) GetReminder(ctx context.Context, id string) (*domain.ReminderRecord, error) {
	rec, err := s.gateway.GetByID(ctx, id)
	if err != nil {
		zlog.Logger.Error().Msgf("GetReminder %s: %v", id, err)
		return nil, err
	}
	return rec, nil
}

func (s *ReminderService) DeleteReminder(ctx context.Context, id string) (*domain.ReminderRecord, error) {
	rec, err := s.gateway.Delete(ctx, id)
	if err != nil {
		zlog.Logger.Error().Msgf("DeleteReminder %s: %v", id, err)
		return nil, err
	}
	return rec, nil
}

// SendNotification отправляет одно уведомление через релей.
func (s *ReminderService) SendNotification(ctx context.Context, token, title, body string) (string, error) {
	messageID, ok := s.relay.Send(ctx, token, title, body)
	if !ok {
		return "", domain.ErrDeliveryFailed
	}
	return messageID, nil
}

// SendMulticast отправляет уведомление на список токенов, пустые токены пропускаются.
func (s *ReminderService) SendMulticast(ctx context.Context, tokens []string, title, body string) (int, error) {
	clean := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return 0, domain.ErrNoTokens
	}
	return s.relay.SendMulticast(ctx, clean, title, body), nil
}
