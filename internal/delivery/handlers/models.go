package handlers

import (
	"time"

	"ReminderNotifier/internal/domain"
	"ReminderNotifier/internal/timecodec"
)

type CreateReminderRequest struct {
	Title        string `json:"title" validate:"required"`
	Message      string `json:"message"`
	ReminderDate string `json:"reminder_date" validate:"required,reminderdate"`
	ScheduleID   string `json:"schedule_id" validate:"required"`
	FCMToken     string `json:"fcm_token"`
}

type SendRequest struct {
	Token string `json:"token" validate:"required"`
	Title string `json:"title" validate:"required"`
	Body  string `json:"body"`
}

type SendMulticastRequest struct {
	Tokens []string `json:"tokens" validate:"required,min=1,dive,required"`
	Title  string   `json:"title" validate:"required"`
	Body   string   `json:"body"`
}

type ReminderResponse struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Message       string  `json:"message"`
	ReminderDate  *string `json:"reminder_date"`
	UserID        string  `json:"user_id,omitempty"`
	ScheduleID    string  `json:"schedule_id,omitempty"`
	Success       bool    `json:"success"`
	StatusMessage string  `json:"status_message,omitempty"`
	Scheduled     bool    `json:"scheduled"`
}

func toResponse(rec domain.ReminderRecord) ReminderResponse {
	resp := ReminderResponse{
		ID:            rec.ID,
		Title:         rec.Title,
		Message:       rec.Message,
		UserID:        rec.OwnerRef,
		ScheduleID:    rec.ScheduleRef,
		Success:       rec.Success,
		StatusMessage: rec.StatusMessage,
		Scheduled:     rec.Schedulable(),
	}
	if rec.TargetTime != nil {
		date := timecodec.Format(*rec.TargetTime)
		resp.ReminderDate = &date
	}
	return resp
}

func toResponses(recs []domain.ReminderRecord) []ReminderResponse {
	out := make([]ReminderResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	return out
}

func parseDate(text string) time.Time {
	t, _ := timecodec.Parse(text)
	return t
}
