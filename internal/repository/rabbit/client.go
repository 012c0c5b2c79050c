package rabbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

const contentTypeJSON = "application/json"

// ClientConfig конфигурация подключения к RabbitMQ.
type ClientConfig struct {
	URL            string
	ConnectionName string
	ConnectTimeout time.Duration
	Heartbeat      time.Duration
	PublishRetry   retry.Strategy
}

// Topology имена exchange и очереди срабатываний.
type Topology struct {
	FireExchange   string
	FireQueue      string
	FireRoutingKey string
	// QueueGrace сколько очередь задержки живет после того, как сообщение из нее ушло
	QueueGrace time.Duration
}

// channel операции канала AMQP, которыми пользуется Client.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

// Client соединение с RabbitMQ и канал для публикации.
type Client struct {
	cfg      ClientConfig
	topology Topology

	conn *amqp091.Connection
	mu   sync.Mutex
	ch   channel
}

// NewClient подключается к RabbitMQ.
func NewClient(cfg ClientConfig, topology Topology) (*Client, error) {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(cfg.ConnectionName)

	conn, err := amqp091.DialConfig(cfg.URL, amqp091.Config{
		Heartbeat:  cfg.Heartbeat,
		Properties: props,
		Dial:       amqp091.DefaultDial(cfg.ConnectTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if topology.QueueGrace <= 0 {
		topology.QueueGrace = time.Minute
	}
	return &Client{cfg: cfg, topology: topology, conn: conn, ch: ch}, nil
}

// DeclareTopology объявляет exchange и очередь срабатываний.
func (c *Client) DeclareTopology() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.publishChannel()
	if err != nil {
		return err
	}
	t := c.topology
	if err := ch.ExchangeDeclare(t.FireExchange, amqp091.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.FireExchange, err)
	}
	if _, err := ch.QueueDeclare(t.FireQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.FireQueue, err)
	}
	if err := ch.QueueBind(t.FireQueue, t.FireRoutingKey, t.FireExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.FireQueue, err)
	}
	return nil
}

// Arm пересоздает очередь задержки queue и кладет в нее body.
// По истечении delay сообщение уходит через dead-letter в очередь срабатываний,
// а сама очередь удаляется брокером спустя QueueGrace.
func (c *Client) Arm(ctx context.Context, queue string, delay time.Duration, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.publishChannel()
	if err != nil {
		return err
	}

	// удаление старой очереди снимает предыдущий триггер
	if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
		return fmt.Errorf("delete queue %s: %w", queue, err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, c.delayQueueArgs(delay)); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return c.publish(ctx, ch, "", queue, body)
}

// Fire публикует событие сразу в exchange срабатываний.
func (c *Client) Fire(ctx context.Context, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.publishChannel()
	if err != nil {
		return err
	}
	return c.publish(ctx, ch, c.topology.FireExchange, c.topology.FireRoutingKey, body)
}

// delayQueueArgs аргументы очереди задержки: TTL сообщения, время жизни очереди и dead-letter в срабатывания.
func (c *Client) delayQueueArgs(delay time.Duration) amqp091.Table {
	ttl := delay.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	return amqp091.Table{
		"x-message-ttl":             ttl,
		"x-expires":                 ttl + c.topology.QueueGrace.Milliseconds(),
		"x-dead-letter-exchange":    c.topology.FireExchange,
		"x-dead-letter-routing-key": c.topology.FireRoutingKey,
	}
}

func (c *Client) publish(ctx context.Context, ch channel, exchange, key string, body []byte) error {
	msg := amqp091.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	publish := func() error {
		return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
	}
	if err := retry.Do(publish, c.cfg.PublishRetry); err != nil {
		zlog.Logger.Error().Err(err).Str("exchange", exchange).Str("key", key).Msg("failed to publish")
		return err
	}
	return nil
}

// Consume открывает отдельный канал и подписывается на очередь.
func (c *Client) Consume(queue, consumer string, prefetch int) (<-chan amqp091.Delivery, io.Closer, error) {
	if c.conn == nil || c.conn.IsClosed() {
		return nil, nil, errors.New("rabbitmq connection is closed")
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return deliveries, ch, nil
}

// publishChannel возвращает канал публикации, переоткрывая его после ошибки брокера.
func (c *Client) publishChannel() (channel, error) {
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	if c.conn == nil || c.conn.IsClosed() {
		return nil, errors.New("rabbitmq connection is closed")
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("reopen channel: %w", err)
	}
	c.ch = ch
	return ch, nil
}

// Ping проверяет, что соединение живо.
func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
