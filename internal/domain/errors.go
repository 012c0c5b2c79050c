package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired ошибка отсутствия bearer-токена.
	ErrAuthRequired = errors.New("authentication required")
	// ErrMalformedResponse ошибка разбора успешного ответа бэкенда.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrInvalidTargetTime ошибка невалидного времени напоминания.
	ErrInvalidTargetTime = errors.New("invalid target time")
	// ErrEmptyTitle ошибка пустого заголовка напоминания.
	ErrEmptyTitle = errors.New("title is empty")
	// ErrNoTransports ошибка пустого списка транспортов.
	ErrNoTransports = errors.New("no transports configured")
	// ErrNotFound ошибка, когда регистрация триггера не найдена.
	ErrNotFound = errors.New("trigger registration not found")
	// ErrDeliveryFailed ошибка, когда релей не принял уведомление.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrNoTokens ошибка пустого списка токенов рассылки.
	ErrNoTokens = errors.New("no notification tokens")
)

// TransportError ошибка транспорта с диагностикой неудачной попытки.
type TransportError struct {
	Transport string
	Code      int
	Body      string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transport failed: %v", e.Transport, e.Err)
	}
	return fmt.Sprintf("%s transport failed: code=%d body=%s", e.Transport, e.Code, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
