package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Schedule(ctx context.Context, reminderID, title, message string,
	firingTime time.Time, token string) domain.Decision {
	args := m.Called(ctx, reminderID, title, message, firingTime, token)
	return args.Get(0).(domain.Decision)
}

func (m *MockScheduler) OnTrigger(ctx context.Context, payload domain.TriggerPayload) {
	m.Called(ctx, payload)
}

type fakeRegistry struct {
	reg    *domain.TriggerRegistration
	err    error
	marked []int64
}

func (r *fakeRegistry) Upsert(context.Context, domain.TriggerRegistration) (int64, error) {
	return 0, nil
}

func (r *fakeRegistry) GetByCode(context.Context, int32) (*domain.TriggerRegistration, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.reg == nil {
		return nil, domain.ErrNotFound
	}
	reg := *r.reg
	return &reg, nil
}

func (r *fakeRegistry) MarkFired(_ context.Context, _ int32, generation int64) error {
	r.marked = append(r.marked, generation)
	return nil
}

func (r *fakeRegistry) ListOverdue(context.Context, time.Time, int) ([]domain.TriggerRegistration, error) {
	return nil, nil
}

type fakeGuard struct {
	seen map[int64]bool
	err  error
}

func (g *fakeGuard) Acquire(_ context.Context, _ int32, generation int64) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[generation] {
		return false, nil
	}
	g.seen[generation] = true
	return true, nil
}

type fakeRearmer struct {
	armed []domain.TriggerRegistration
}

func (a *fakeRearmer) Arm(_ context.Context, reg domain.TriggerRegistration) error {
	a.armed = append(a.armed, reg)
	return nil
}

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestConsumer(sched *MockScheduler, registry *fakeRegistry, guard domain.FireGuard,
	rearmer *fakeRearmer) *Consumer {
	c := NewConsumer(sched, registry, guard, rearmer, nil, Config{})
	c.now = func() time.Time { return now }
	return c
}

func registration(generation int64, firing time.Time) *domain.TriggerRegistration {
	return &domain.TriggerRegistration{
		RequestCode: domain.RequestCode("r-1"),
		ReminderID:  "r-1",
		FiringTime:  firing,
		Generation:  generation,
		Payload:     domain.TriggerPayload{ReminderID: "r-1", Token: "device", Title: "Pills", Message: "take"},
	}
}

func eventBody(t *testing.T, reg *domain.TriggerRegistration) []byte {
	t.Helper()
	body, err := json.Marshal(domain.NewFireEvent(*reg))
	require.NoError(t, err)
	return body
}

func TestConsumer_Handle_Delivers(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(2, now.Add(-time.Second))
	registry := &fakeRegistry{reg: reg}
	c := newTestConsumer(sched, registry, &fakeGuard{seen: map[int64]bool{}}, &fakeRearmer{})

	sched.On("OnTrigger", mock.Anything, reg.Payload).Return().Once()

	c.Handle(context.Background(), eventBody(t, reg))

	sched.AssertExpectations(t)
	assert.Equal(t, []int64{2}, registry.marked)
}

func TestConsumer_Handle_DuplicateDropped(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(1, now)
	registry := &fakeRegistry{reg: reg}
	c := newTestConsumer(sched, registry, &fakeGuard{seen: map[int64]bool{}}, &fakeRearmer{})

	sched.On("OnTrigger", mock.Anything, reg.Payload).Return().Once()

	body := eventBody(t, reg)
	c.Handle(context.Background(), body)
	c.Handle(context.Background(), body)

	sched.AssertNumberOfCalls(t, "OnTrigger", 1)
}

func TestConsumer_Handle_SupersededDropped(t *testing.T) {
	sched := new(MockScheduler)
	old := registration(1, now)
	registry := &fakeRegistry{reg: registration(2, now.Add(time.Hour))}
	c := newTestConsumer(sched, registry, nil, &fakeRearmer{})

	c.Handle(context.Background(), eventBody(t, old))

	sched.AssertNotCalled(t, "OnTrigger", mock.Anything, mock.Anything)
	assert.Empty(t, registry.marked)
}

func TestConsumer_Handle_AlreadyFired(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(1, now)
	fired := now.Add(-time.Minute)
	stored := *reg
	stored.FiredAt = &fired
	c := newTestConsumer(sched, &fakeRegistry{reg: &stored}, nil, &fakeRearmer{})

	c.Handle(context.Background(), eventBody(t, reg))

	sched.AssertNotCalled(t, "OnTrigger", mock.Anything, mock.Anything)
}

func TestConsumer_Handle_NotFound(t *testing.T) {
	sched := new(MockScheduler)
	c := newTestConsumer(sched, &fakeRegistry{}, nil, &fakeRearmer{})

	c.Handle(context.Background(), eventBody(t, registration(1, now)))

	sched.AssertNotCalled(t, "OnTrigger", mock.Anything, mock.Anything)
}

func TestConsumer_Handle_EarlyRearmed(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(3, now.Add(20*24*time.Hour))
	rearmer := &fakeRearmer{}
	c := newTestConsumer(sched, &fakeRegistry{reg: reg}, nil, rearmer)

	c.Handle(context.Background(), eventBody(t, reg))

	sched.AssertNotCalled(t, "OnTrigger", mock.Anything, mock.Anything)
	require.Len(t, rearmer.armed, 1)
	assert.EqualValues(t, 3, rearmer.armed[0].Generation)
}

func TestConsumer_Handle_StaleDropped(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(1, now.Add(-2*time.Hour))
	registry := &fakeRegistry{reg: reg}
	c := newTestConsumer(sched, registry, nil, &fakeRearmer{})

	c.Handle(context.Background(), eventBody(t, reg))

	sched.AssertNotCalled(t, "OnTrigger", mock.Anything, mock.Anything)
	assert.Equal(t, []int64{1}, registry.marked)
}

func TestConsumer_Handle_RegistryDownDeliversFromEvent(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(1, now)
	c := newTestConsumer(sched, &fakeRegistry{err: errors.New("db down")}, nil, &fakeRearmer{})

	sched.On("OnTrigger", mock.Anything, reg.Payload).Return().Once()

	c.Handle(context.Background(), eventBody(t, reg))

	sched.AssertExpectations(t)
}

func TestConsumer_Handle_GuardDownDelivers(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(1, now)
	c := newTestConsumer(sched, &fakeRegistry{reg: reg}, &fakeGuard{err: errors.New("redis down")}, &fakeRearmer{})

	sched.On("OnTrigger", mock.Anything, reg.Payload).Return().Once()

	c.Handle(context.Background(), eventBody(t, reg))

	sched.AssertExpectations(t)
}

func TestConsumer_Handle_NeverPanics(t *testing.T) {
	sched := new(MockScheduler)
	reg := registration(1, now)
	c := newTestConsumer(sched, &fakeRegistry{reg: reg}, nil, &fakeRearmer{})

	sched.On("OnTrigger", mock.Anything, mock.Anything).Panic("boom")

	assert.NotPanics(t, func() {
		c.Handle(context.Background(), eventBody(t, reg))
		c.Handle(context.Background(), []byte("not json"))
	})
}

type chanSource struct {
	deliveries chan amqp091.Delivery
	closed     bool
}

func (s *chanSource) Consume(string, string, int) (<-chan amqp091.Delivery, io.Closer, error) {
	return s.deliveries, s, nil
}

func (s *chanSource) Close() error {
	s.closed = true
	return nil
}

type recordingAcker struct {
	mu   sync.Mutex
	acks []uint64
}

func (a *recordingAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *recordingAcker) Nack(uint64, bool, bool) error { return nil }

func (a *recordingAcker) Reject(uint64, bool) error { return nil }

// slowScheduler доставляет дольше, чем живет контекст сервиса, и запоминает, не оборвали ли доставку.
type slowScheduler struct {
	started   chan struct{}
	mu        sync.Mutex
	delivered int
	cancelled int
}

func (s *slowScheduler) Schedule(context.Context, string, string, string, time.Time, string) domain.Decision {
	return domain.DecisionSkipped
}

func (s *slowScheduler) OnTrigger(ctx context.Context, _ domain.TriggerPayload) {
	close(s.started)
	select {
	case <-time.After(100 * time.Millisecond):
		s.mu.Lock()
		s.delivered++
		s.mu.Unlock()
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
	}
}

func TestConsumer_Start_ShutdownDoesNotInterruptDelivery(t *testing.T) {
	sched := &slowScheduler{started: make(chan struct{})}
	reg := registration(1, now)
	registry := &fakeRegistry{reg: reg}
	acker := &recordingAcker{}
	source := &chanSource{deliveries: make(chan amqp091.Delivery, 1)}
	source.deliveries <- amqp091.Delivery{Acknowledger: acker, DeliveryTag: 7, Body: eventBody(t, reg)}

	c := NewConsumer(sched, registry, &fakeGuard{seen: map[int64]bool{}}, &fakeRearmer{}, source, Config{})
	c.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, "fire", 1, 1) }()

	<-sched.started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, 1, sched.delivered)
	assert.Zero(t, sched.cancelled)
	assert.Equal(t, []int64{1}, registry.marked)
	assert.Equal(t, []uint64{7}, acker.acks)
	assert.True(t, source.closed)
}

func TestConsumer_Start_DeliveriesClosed(t *testing.T) {
	source := &chanSource{deliveries: make(chan amqp091.Delivery)}
	close(source.deliveries)
	c := NewConsumer(new(MockScheduler), &fakeRegistry{}, nil, &fakeRearmer{}, source, Config{})

	err := c.Start(context.Background(), "fire", 3, 1)

	assert.ErrorIs(t, err, ErrDeliveriesClosed)
}

func TestConsumer_Start_ConsumeError(t *testing.T) {
	c := NewConsumer(new(MockScheduler), &fakeRegistry{}, nil, &fakeRearmer{}, failingSource{}, Config{})

	assert.Error(t, c.Start(context.Background(), "fire", 1, 1))
}

type failingSource struct{}

func (failingSource) Consume(string, string, int) (<-chan amqp091.Delivery, io.Closer, error) {
	return nil, nil, errors.New("channel/connection is not open")
}
