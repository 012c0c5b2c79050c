package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ReminderNotifier/internal/auth"
	cfgman "ReminderNotifier/internal/config"
	"ReminderNotifier/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRelay struct {
	calls      atomic.Int32
	credential string
}

func (r *countingRelay) Send(ctx context.Context, _, _, _ string) (string, bool) {
	r.calls.Add(1)
	r.credential = auth.FromContext(ctx)
	return "m-1", true
}

func (r *countingRelay) SendMulticast(context.Context, []string, string, string) int {
	r.calls.Add(1)
	return 1
}

func newTestApplication(t *testing.T, relay *countingRelay) *Application {
	t.Helper()
	a := &Application{
		config:  &cfgman.Config{},
		service: service.NewReminderService(nil, relay),
	}
	require.NoError(t, a.setupHTTPServer())
	return a
}

func TestRoutes_NotificationsRequireBearer(t *testing.T) {
	relay := &countingRelay{}
	a := newTestApplication(t, relay)

	for _, path := range []string{"/api/v1/notifications/send", "/api/v1/notifications/send-multicast"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path,
			bytes.NewBufferString(`{"token":"device","tokens":["device"],"title":"t","body":"b"}`))
		req.Header.Set("Content-Type", "application/json")
		a.server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	assert.Zero(t, relay.calls.Load())
}

func TestRoutes_NotificationsForwardCallerCredential(t *testing.T) {
	relay := &countingRelay{}
	a := newTestApplication(t, relay)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/send",
		bytes.NewBufferString(`{"token":"device","title":"t","body":"b"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer caller-session")
	a.server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, relay.calls.Load())
	assert.Equal(t, "caller-session", relay.credential)
}

func TestRoutes_RemindersRequireBearer(t *testing.T) {
	a := newTestApplication(t, &countingRelay{})

	w := httptest.NewRecorder()
	a.server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reminders", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWaitConsumer_WaitsForInFlightDelivery(t *testing.T) {
	a := &Application{config: &cfgman.Config{}, consumerDone: make(chan struct{})}
	a.config.Scheduler.HoldTimeout = time.Second

	var finished atomic.Bool
	go func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		close(a.consumerDone)
	}()

	a.waitConsumer()

	assert.True(t, finished.Load())
}

func TestWaitConsumer_NotStarted(t *testing.T) {
	a := &Application{config: &cfgman.Config{}}

	assert.NotPanics(t, a.waitConsumer)
}
