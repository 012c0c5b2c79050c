package rabbit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	calls      []string
	declared   map[string]amqp091.Table
	published  []published
	publishErr error
	deleteErr  error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{declared: map[string]amqp091.Table{}}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	f.calls = append(f.calls, "exchange:"+name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	f.calls = append(f.calls, "declare:"+name)
	f.declared[name] = args
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp091.Table) error {
	f.calls = append(f.calls, "bind:"+name+":"+key+":"+exchange)
	return nil
}

func (f *fakeChannel) QueueDelete(name string, _, _, _ bool) (int, error) {
	f.calls = append(f.calls, "delete:"+name)
	return 0, f.deleteErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.calls = append(f.calls, "publish:"+key)
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func newTestClient(ch channel) *Client {
	return &Client{
		cfg: ClientConfig{PublishRetry: retry.Strategy{Attempts: 1, Delay: time.Millisecond, Backoff: 1}},
		topology: Topology{
			FireExchange:   "reminder.fire",
			FireQueue:      "reminder.fire",
			FireRoutingKey: "fire",
			QueueGrace:     time.Minute,
		},
		ch: ch,
	}
}

func TestClient_Arm_ReplacesDelayQueue(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(ch)

	err := c.Arm(context.Background(), "trigger.0000002a", 90*time.Second, []byte(`{"request_code":42}`))

	require.NoError(t, err)
	assert.Equal(t, []string{"delete:trigger.0000002a", "declare:trigger.0000002a", "publish:trigger.0000002a"}, ch.calls)
	assert.Equal(t, amqp091.Table{
		"x-message-ttl":             int64(90_000),
		"x-expires":                 int64(150_000),
		"x-dead-letter-exchange":    "reminder.fire",
		"x-dead-letter-routing-key": "fire",
	}, ch.declared["trigger.0000002a"])

	require.Len(t, ch.published, 1)
	assert.Equal(t, "", ch.published[0].exchange)
	assert.Equal(t, amqp091.Persistent, ch.published[0].msg.DeliveryMode)
	assert.Equal(t, contentTypeJSON, ch.published[0].msg.ContentType)
}

func TestClient_Arm_SubMillisecondDelay(t *testing.T) {
	c := newTestClient(newFakeChannel())

	args := c.delayQueueArgs(300 * time.Microsecond)

	assert.Equal(t, int64(1), args["x-message-ttl"])
}

func TestClient_Arm_DeleteError(t *testing.T) {
	ch := newFakeChannel()
	ch.deleteErr = errors.New("channel closed")
	c := newTestClient(ch)

	err := c.Arm(context.Background(), "trigger.1", time.Second, nil)

	assert.Error(t, err)
	assert.Empty(t, ch.published)
}

func TestClient_Fire(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(ch)

	require.NoError(t, c.Fire(context.Background(), []byte(`{}`)))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "reminder.fire", ch.published[0].exchange)
	assert.Equal(t, "fire", ch.published[0].key)
}

func TestClient_Fire_PublishError(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("connection reset")
	c := newTestClient(ch)

	assert.Error(t, c.Fire(context.Background(), []byte(`{}`)))
}

func TestClient_DeclareTopology(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(ch)

	require.NoError(t, c.DeclareTopology())

	assert.Equal(t, []string{
		"exchange:reminder.fire:direct",
		"declare:reminder.fire",
		"bind:reminder.fire:fire:reminder.fire",
	}, ch.calls)
}

func TestClient_ClosedWithoutConnection(t *testing.T) {
	ch := newFakeChannel()
	ch.closed = true
	c := newTestClient(ch)

	assert.Error(t, c.Fire(context.Background(), nil))
	assert.Error(t, c.Ping())
	_, _, err := c.Consume("reminder.fire", "tag", 1)
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}
