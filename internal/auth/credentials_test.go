package auth_test

import (
	"context"
	"testing"

	"ReminderNotifier/internal/auth"
	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", auth.BearerToken("Bearer abc"))
	assert.Equal(t, "abc", auth.BearerToken("bearer   abc "))
	assert.Equal(t, "", auth.BearerToken("Basic abc"))
	assert.Equal(t, "", auth.BearerToken(""))
	assert.Equal(t, "", auth.BearerToken("Bearer "))
}

func TestCredentialSources(t *testing.T) {
	ctx := auth.WithCredential(context.Background(), " session ")

	assert.Equal(t, "session", auth.RequestCredential{}.Credential(ctx))
	assert.Equal(t, "", auth.RequestCredential{}.Credential(context.Background()))
	assert.Equal(t, "svc", auth.StaticCredential(" svc ").Credential(context.Background()))
}

func TestChain_PrefersRequestCredential(t *testing.T) {
	chain := auth.Chain{auth.RequestCredential{}, auth.StaticCredential("svc")}

	assert.Equal(t, "caller", chain.Credential(auth.WithCredential(context.Background(), "caller")))
	assert.Equal(t, "svc", chain.Credential(context.Background()))
	assert.Equal(t, "", auth.Chain{auth.RequestCredential{}}.Credential(context.Background()))
}
