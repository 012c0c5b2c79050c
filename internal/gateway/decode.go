package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"ReminderNotifier/internal/domain"
	"ReminderNotifier/internal/timecodec"
	"github.com/wb-go/wbf/zlog"
)

// wireReminder напоминание в формате бэкенда.
type wireReminder struct {
	ID         string          `json:"_id"`
	ReminderID string          `json:"reminderId"`
	Title      string          `json:"title"`
	Message    string          `json:"reminderMessage"`
	Date       json.RawMessage `json:"reminderDate"`
	UserID     string          `json:"userId"`
	ScheduleID string          `json:"scheduleId"`
	Success    *bool           `json:"success"`
	StatusMsg  string          `json:"message"`
}

type recordEnvelope struct {
	wireReminder
	Reminder *wireReminder   `json:"reminder"`
	Data     json.RawMessage `json:"data"`
}

type listEnvelope struct {
	Success   *bool           `json:"success"`
	Message   string          `json:"message"`
	Reminders []wireReminder  `json:"reminders"`
	Data      json.RawMessage `json:"data"`
}

// decodeRecord разбирает ответ с одним напоминанием.
// Напоминание может лежать в корне или в поле reminder/data.
func decodeRecord(transport string, body []byte) (*domain.ReminderRecord, error) {
	var env recordEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if rejected(env.Success) {
		return nil, &domain.TransportError{Transport: transport, Code: http.StatusOK, Body: env.StatusMsg}
	}

	w := env.wireReminder
	switch {
	case env.Reminder != nil:
		w = *env.Reminder
	case isObject(env.Data):
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
		}
	}
	// статус ответа всегда берется из корня
	w.Success = env.Success
	if env.StatusMsg != "" {
		w.StatusMsg = env.StatusMsg
	}

	rec := toRecord(w)
	return &rec, nil
}

// decodeList разбирает ответ со списком: массив в корне или в поле reminders/data.
func decodeList(transport string, body []byte) ([]domain.ReminderRecord, error) {
	var items []wireReminder
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
		}
	} else {
		var env listEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
		}
		if rejected(env.Success) {
			return nil, &domain.TransportError{Transport: transport, Code: http.StatusOK, Body: env.Message}
		}
		switch {
		case env.Reminders != nil:
			items = env.Reminders
		case len(env.Data) > 0:
			if err := json.Unmarshal(env.Data, &items); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
			}
		default:
			return nil, fmt.Errorf("%w: no reminders in response", domain.ErrMalformedResponse)
		}
	}

	records := make([]domain.ReminderRecord, 0, len(items))
	for _, w := range items {
		records = append(records, toRecord(w))
	}
	return records, nil
}

func toRecord(w wireReminder) domain.ReminderRecord {
	rec := domain.ReminderRecord{
		ID:            w.ID,
		Title:         w.Title,
		Message:       w.Message,
		OwnerRef:      w.UserID,
		ScheduleRef:   w.ScheduleID,
		Success:       w.Success == nil || *w.Success,
		StatusMessage: w.StatusMsg,
	}
	if rec.ID == "" {
		rec.ID = w.ReminderID
	}

	var text string
	if len(w.Date) > 0 && json.Unmarshal(w.Date, &text) == nil {
		rec.TargetTime = timecodec.ParsePtr(text)
	}
	if rec.TargetTime == nil && hasValue(w.Date) {
		zlog.Logger.Warn().Str("reminder_id", rec.ID).Str("reminder_date", string(w.Date)).
			Msg("reminder date is not parseable")
	}
	return rec
}

func rejected(success *bool) bool {
	return success != nil && !*success
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
