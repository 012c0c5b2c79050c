package domain_test

import (
	"testing"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestReminderRequest_Validate(t *testing.T) {
	target := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  domain.ReminderRequest
		want error
	}{
		{
			name: "valid",
			req:  domain.ReminderRequest{Title: "Бумага", TargetTime: target},
		},
		{
			name: "empty title",
			req:  domain.ReminderRequest{TargetTime: target},
			want: domain.ErrEmptyTitle,
		},
		{
			name: "blank title",
			req:  domain.ReminderRequest{Title: " \t\n", TargetTime: target},
			want: domain.ErrEmptyTitle,
		},
		{
			name: "zero target time",
			req:  domain.ReminderRequest{Title: "Бумага"},
			want: domain.ErrInvalidTargetTime,
		},
		{
			name: "title checked first",
			req:  domain.ReminderRequest{},
			want: domain.ErrEmptyTitle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequestCode_Stable(t *testing.T) {
	assert.Equal(t, domain.RequestCode("r-1"), domain.RequestCode("r-1"))
	assert.NotEqual(t, domain.RequestCode("r-1"), domain.RequestCode("r-2"))
}

func TestNewFireEvent(t *testing.T) {
	firing := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	reg := domain.TriggerRegistration{
		RequestCode: 42,
		ReminderID:  "r-1",
		FiringTime:  firing,
		Payload:     domain.TriggerPayload{ReminderID: "r-1", Token: "device", Title: "t", Message: "m"},
		Generation:  3,
	}

	ev := domain.NewFireEvent(reg)

	assert.Equal(t, int32(42), ev.RequestCode)
	assert.Equal(t, int64(3), ev.Generation)
	assert.Equal(t, "r-1", ev.ReminderID)
	assert.True(t, firing.Equal(ev.FiringTime))
	assert.Equal(t, reg.Payload, ev.Payload)
}
