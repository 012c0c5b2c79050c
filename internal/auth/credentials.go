// Package auth хранит bearer-токены для исходящих вызовов.
package auth

import (
	"context"
	"strings"

	"ReminderNotifier/internal/domain"
)

type credentialKey struct{}

// WithCredential кладет токен запроса в контекст.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, strings.TrimSpace(token))
}

// FromContext достает токен из контекста.
func FromContext(ctx context.Context) string {
	token, _ := ctx.Value(credentialKey{}).(string)
	return token
}

// RequestCredential берет токен из контекста запроса.
type RequestCredential struct{}

func (RequestCredential) Credential(ctx context.Context) string {
	return FromContext(ctx)
}

// StaticCredential сервисный токен из конфигурации.
// Используется там, где нет пользовательского запроса (срабатывание триггера).
type StaticCredential string

func (s StaticCredential) Credential(context.Context) string {
	return strings.TrimSpace(string(s))
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Chain возвращает токен первого источника, у которого он есть.
type Chain []domain.CredentialSource

func (c Chain) Credential(ctx context.Context) string {
	for _, src := range c {
		if token := src.Credential(ctx); token != "" {
			return token
		}
	}
	return ""
}
