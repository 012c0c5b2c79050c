package handlers

import (
	"errors"
	"net/http"
	"strings"

	"ReminderNotifier/internal/delivery/middleware"
	"ReminderNotifier/internal/domain"
	"ReminderNotifier/internal/timecodec"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service domain.ReminderService
}

func NewHandlersSet(service domain.ReminderService) *Handler {
	return &Handler{
		service: service,
	}
}

var validate = validator.New()

func reminderDateValidator(fl validator.FieldLevel) bool {
	_, ok := timecodec.Parse(fl.Field().String())
	return ok
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "обязательное поле"
	case "min":
		return "список не должен быть пустым"
	case "reminderdate":
		return "некорректный формат даты (ожидается ISO 8601)"
	default:
		return "некорректное значение"
	}
}

func init() {
	_ = validate.RegisterValidation("reminderdate", reminderDateValidator)
}

// bind разбирает и валидирует тело запроса. false означает, что ответ уже записан.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Некорректный JSON: " + err.Error()})
		return false
	}

	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			errorsMap := make(map[string]string)
			for _, e := range verrs {
				errorsMap[e.Field()] = validationMessage(e)
			}

			c.JSON(http.StatusBadRequest, gin.H{
				"message": "Ошибка валидации",
				"errors":  errorsMap,
			})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// writeError переводит ошибку сервиса в HTTP-статус.
func writeError(c *gin.Context, err error) {
	var terr *domain.TransportError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrEmptyTitle), errors.Is(err, domain.ErrInvalidTargetTime),
		errors.Is(err, domain.ErrNoTokens):
		status = http.StatusBadRequest
	case errors.As(err, &terr), errors.Is(err, domain.ErrMalformedResponse),
		errors.Is(err, domain.ErrDeliveryFailed):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		middleware.Logger(c.Request.Context()).Error().Err(err).Int("status_code", status).
			Msg("Reminder backend request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) CreateReminderHandler(c *gin.Context) {
	var req CreateReminderRequest
	if !bind(c, &req) {
		return
	}

	rec, err := h.service.CreateAndSchedule(c.Request.Context(), req.Title, req.Message,
		parseDate(req.ReminderDate), req.ScheduleID, strings.TrimSpace(req.FCMToken))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"result": toResponse(*rec)})
}

func (h *Handler) ListRemindersHandler(c *gin.Context) {
	recs, err := h.service.ListReminders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": toResponses(recs)})
}

func (h *Handler) GetReminderHandler(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	rec, err := h.service.GetReminder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": toResponse(*rec)})
}

func (h *Handler) DeleteReminderHandler(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	rec, err := h.service.DeleteReminder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": toResponse(*rec)})
}

func (h *Handler) SendNotificationHandler(c *gin.Context) {
	var req SendRequest
	if !bind(c, &req) {
		return
	}

	messageID, err := h.service.SendNotification(c.Request.Context(), req.Token, req.Title, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"message_id": messageID}})
}

func (h *Handler) SendMulticastHandler(c *gin.Context) {
	var req SendMulticastRequest
	if !bind(c, &req) {
		return
	}

	count, err := h.service.SendMulticast(c.Request.Context(), req.Tokens, req.Title, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"success_count": count}})
}
