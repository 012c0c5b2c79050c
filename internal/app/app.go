package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ReminderNotifier/internal/alarm"
	"ReminderNotifier/internal/auth"
	cfgman "ReminderNotifier/internal/config"
	"ReminderNotifier/internal/delivery/handlers"
	"ReminderNotifier/internal/delivery/middleware"
	"ReminderNotifier/internal/domain"
	"ReminderNotifier/internal/gateway"
	"ReminderNotifier/internal/migrator"
	"ReminderNotifier/internal/relay"
	"ReminderNotifier/internal/repository/pg"
	"ReminderNotifier/internal/repository/rabbit"
	redisrepo "ReminderNotifier/internal/repository/redis"
	"ReminderNotifier/internal/scheduler"
	"ReminderNotifier/internal/service"
	"ReminderNotifier/internal/sweeper"
	"ReminderNotifier/internal/wakelock"
	"ReminderNotifier/internal/worker"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// Application основная структура приложения.
type Application struct {
	config    *cfgman.Config
	server    *ginext.Engine
	db        *dbpg.DB
	redis     *redis.Client
	rabbit    *rabbit.Client
	inhibitor *wakelock.Inhibitor
	alarms    *alarm.Manager
	scheduler *scheduler.Scheduler
	consumer  *worker.Consumer
	sweeper   *sweeper.Sweeper
	service   *service.ReminderService

	// consumerErr получает результат обработчика срабатываний, consumerDone закрывается после его остановки
	consumerErr  chan error
	consumerDone chan struct{}
}

// New создает новое приложение.
func New() (*Application, error) {
	// Загружаем конфигурацию
	cfg, err := cfgman.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Инициализируем логгер
	if err := initLogger(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	app := &Application{
		config: cfg,
	}

	return app, nil
}

// Run запускает приложение в зависимости от команды.
func (a *Application) Run() error {
	if len(os.Args) < 2 {
		a.printUsage()
		return fmt.Errorf("no command specified")
	}

	command := os.Args[1]

	switch command {
	case "runserver":
		return a.runServer()
	case "migrate":
		return a.runMigrate()
	case "health":
		return a.runHealthCheck()
	default:
		a.printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage печатает инструкции по использованию.
func (a *Application) printUsage() {
	fmt.Println("ReminderNotifier - планирование и доставка напоминаний")
	fmt.Println()
	fmt.Println("Доступные команды:")
	fmt.Println("  runserver         - запуск HTTP сервера, обработчика срабатываний и sweeper")
	fmt.Println("  migrate up        - накат миграций")
	fmt.Println("  migrate down      - откат миграций")
	fmt.Println("  migrate to <ver>  - миграция до указанной версии")
	fmt.Println("  health            - проверка состояния сервисов")
	fmt.Println()
	fmt.Println("Примеры:")
	fmt.Println("  <appname> runserver")
	fmt.Println("  <appname> migrate up")
	fmt.Println("  <appname> migrate to 1")
	fmt.Println("  <appname> health")
}

// runHealthCheck проверяет состояние всех подключений.
func (a *Application) runHealthCheck() error {
	fmt.Println("Running health check...")

	// Проверяем подключение к базе данных и версию схемы
	version, err := a.checkDatabase()
	if err != nil {
		return fmt.Errorf("database check failed: %w", err)
	}
	fmt.Printf("✅ Database connection: OK (schema version %d)\n", version)

	// Проверяем подключение к Redis
	if err := a.checkRedis(); err != nil {
		return fmt.Errorf("redis check failed: %w", err)
	}
	fmt.Println("✅ Redis connection: OK")

	// Проверяем подключение к RabbitMQ
	if err := a.checkRabbitMQ(); err != nil {
		return fmt.Errorf("rabbitmq check failed: %w", err)
	}
	fmt.Println("✅ RabbitMQ connection: OK")

	// Блокировка сна необязательна, только предупреждаем
	if err := a.checkWakeLock(); err != nil {
		fmt.Printf("⚠️  Wake lock: %v\n", err)
	} else {
		fmt.Println("✅ Wake lock: OK")
	}

	fmt.Println("🎉 All health checks passed!")
	return nil
}

// checkDatabase проверяет подключение к базе данных и возвращает версию миграций.
func (a *Application) checkDatabase() (uint, error) {
	db, err := initDatabase(a.config.Database)
	if err != nil {
		return 0, err
	}
	defer func(Master *sql.DB) {
		_ = Master.Close()
	}(db.Master)

	m, err := migrator.NewMigrator(db.Master, a.config.Migrations.Path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = m.Close()
	}()
	return m.Version()
}

// checkRedis проверяет подключение к Redis.
func (a *Application) checkRedis() error {
	client := redis.New(a.config.Redis.Addr, a.config.Redis.Password, a.config.Redis.DB)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return client.Ping(ctx).Err()
}

// checkRabbitMQ проверяет подключение к RabbitMQ.
func (a *Application) checkRabbitMQ() error {
	cfg := a.config.RabbitMQ
	cfg.ConnectionName += "-health"
	cfg.ConnectTimeout = 5 * time.Second
	cfg.Heartbeat = 5 * time.Second

	client, err := rabbit.NewClient(rabbitClientConfig(cfg), rabbitTopology(cfg))
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	return client.Ping()
}

// checkWakeLock проверяет, что блокировку сна можно взять.
func (a *Application) checkWakeLock() error {
	wake, closeFn := initWakeLock(a.config.WakeLock)
	defer closeFn()

	hold, err := wake.Acquire(context.Background(), "health", time.Second)
	if err != nil {
		return err
	}
	hold.Release()
	return nil
}

// initLogger инициализирует логгер.
func initLogger(level string) error {
	zlog.Init()

	zerologLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	err = zlog.SetLevel(zerologLevel.String())
	if err != nil {
		return err
	}

	return nil
}

// runServer запускает приложение в режиме сервера.
func (a *Application) runServer() error {
	zlog.Logger.Info().Msg("Starting ReminderNotifier server...")

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := a.initConnections(); err != nil {
		return fmt.Errorf("failed to init connections: %w", err)
	}
	defer a.cleanup()
	if err := a.setupHTTPServer(); err != nil {
		return fmt.Errorf("failed to setup HTTP server: %w", err)
	}
	if err := a.startWorkers(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	zlog.Logger.Info().Str("address", a.config.HTTP.GetConnectionString()).Msg("HTTP server starting")
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Run(a.config.HTTP.GetConnectionString())
	}()
	zlog.Logger.Info().Msg("HTTP server started, waiting for shutdown signal...")
	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	case err := <-a.consumerErr:
		// без обработчика триггеры не срабатывают, выходим, чтобы супервизор перезапустил сервис
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("Received shutdown signal")
			return nil
		}
		if err == nil {
			err = errors.New("stopped unexpectedly")
		}
		return fmt.Errorf("fire consumer error: %w", err)
	case <-ctx.Done():
		zlog.Logger.Info().Msg("Received shutdown signal")
		return nil
	}
}

// runMigrate запускает приложение в режиме миграций.
func (a *Application) runMigrate() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("migrate command requires direction (up/down/to)")
	}

	direction := os.Args[2]

	switch direction {
	case "up":
		return a.withMigrator("up", func(m *migrator.Migrator) error { return m.Up() })
	case "down":
		return a.withMigrator("down", func(m *migrator.Migrator) error { return m.Down() })
	case "to":
		if len(os.Args) < 4 {
			return fmt.Errorf("migrate to requires version")
		}
		version, err := strconv.ParseUint(os.Args[3], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", os.Args[3], err)
		}
		return a.withMigrator("to "+os.Args[3], func(m *migrator.Migrator) error {
			return m.MigrateTo(uint(version))
		})
	default:
		return fmt.Errorf("unknown migrate direction: %s (use up/down/to)", direction)
	}
}

// withMigrator открывает базу, выполняет миграцию и закрывает ресурсы.
func (a *Application) withMigrator(name string, run func(m *migrator.Migrator) error) error {
	zlog.Logger.Info().Msgf("Running migrations %s...", name)
	db, err := initDatabase(a.config.Database)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer func(Master *sql.DB) {
		_ = Master.Close()
	}(db.Master)

	m, err := migrator.NewMigrator(db.Master, a.config.Migrations.Path)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		_ = m.Close()
	}()
	if err := run(m); err != nil {
		return fmt.Errorf("migration %s failed: %w", name, err)
	}

	zlog.Logger.Info().Msgf("Migrations %s completed successfully", name)
	return nil
}

// initConnections инициализирует все подключения.
func (a *Application) initConnections() error {
	var err error

	a.db, err = initDatabase(a.config.Database)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	a.redis, err = initRedis(a.config.Redis)
	if err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}

	a.rabbit, err = initRabbitMQ(a.config.RabbitMQ)
	if err != nil {
		return fmt.Errorf("failed to init rabbitmq: %w", err)
	}

	if err := a.initServices(); err != nil {
		return fmt.Errorf("failed to init services: %w", err)
	}

	return nil
}

// initDatabase инициализирует подключение к базе данных.
func initDatabase(cfg cfgman.DatabaseConfig) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}

	db, err := dbpg.New(cfg.DSN, nil, opts)
	if err != nil {
		return nil, err
	}

	if err := db.Master.Ping(); err != nil {
		return nil, err
	}

	zlog.Logger.Info().Msg("Database connection established")
	return db, nil
}

// initRedis инициализирует подключение к Redis.
func initRedis(cfg cfgman.RedisConfig) (*redis.Client, error) {
	client := redis.New(cfg.Addr, cfg.Password, cfg.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	zlog.Logger.Info().Msg("Redis connection established")
	return client, nil
}

func rabbitClientConfig(cfg cfgman.RabbitMQConfig) rabbit.ClientConfig {
	return rabbit.ClientConfig{
		URL:            cfg.URL,
		ConnectionName: cfg.ConnectionName,
		ConnectTimeout: cfg.ConnectTimeout,
		Heartbeat:      cfg.Heartbeat,
		PublishRetry: retry.Strategy{
			Attempts: cfg.PublishRetry.Attempts,
			Delay:    cfg.PublishRetry.Delay,
			Backoff:  float64(cfg.PublishRetry.Backoff),
		},
	}
}

func rabbitTopology(cfg cfgman.RabbitMQConfig) rabbit.Topology {
	return rabbit.Topology{
		FireExchange:   cfg.FireExchange,
		FireQueue:      cfg.FireQueue,
		FireRoutingKey: cfg.FireRoutingKey,
		QueueGrace:     cfg.QueueGrace,
	}
}

// initRabbitMQ инициализирует подключение к RabbitMQ и объявляет очередь срабатываний.
func initRabbitMQ(cfg cfgman.RabbitMQConfig) (*rabbit.Client, error) {
	client, err := rabbit.NewClient(rabbitClientConfig(cfg), rabbitTopology(cfg))
	if err != nil {
		return nil, err
	}
	if err := client.DeclareTopology(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to declare fire topology")
		_ = client.Close()
		return nil, err
	}
	zlog.Logger.Info().Msg("RabbitMQ connection established")
	return client, nil
}

// initWakeLock выбирает реализацию удержания. Без logind работает Noop.
func initWakeLock(cfg cfgman.WakeLockConfig) (domain.WakeLock, func()) {
	if cfg.Backend != "systemd" {
		return wakelock.Noop{}, func() {}
	}
	inhibitor, err := wakelock.NewInhibitor(cfg.Who)
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("logind unavailable, delivering without wake lock")
		return wakelock.Noop{}, func() {}
	}
	return inhibitor, inhibitor.Close
}

// initServices инициализирует сервисы приложения.
func (a *Application) initServices() error {
	registry := pg.NewTriggerRegistry(a.db)
	a.alarms = alarm.NewManager(registry, a.rabbit, alarm.Config{MaxDelay: a.config.Scheduler.MaxDelay})

	relayClient := relay.NewClient(relay.Config{
		PrimaryURL:   a.config.Relay.PrimaryURL,
		AlternateURL: a.config.Relay.AlternateURL,
		Timeout:      a.config.Relay.Timeout,
		RatePerSec:   a.config.Relay.RatePerSec,
	}, auth.Chain{auth.RequestCredential{}, auth.StaticCredential(a.config.Relay.Credential)})

	wake, closeWake := initWakeLock(a.config.WakeLock)
	if inhibitor, ok := wake.(*wakelock.Inhibitor); ok {
		a.inhibitor = inhibitor
	} else {
		closeWake()
	}

	a.scheduler = scheduler.NewScheduler(a.alarms, relayClient, wake, scheduler.Config{
		StaleAfter:      a.config.Scheduler.StaleAfter,
		HoldTimeout:     a.config.Scheduler.HoldTimeout,
		RegisterTimeout: a.config.Scheduler.RegisterTimeout,
	})

	transports, err := a.gatewayTransports()
	if err != nil {
		return err
	}
	gw := gateway.NewGateway(auth.RequestCredential{}, a.scheduler, transports...)
	a.service = service.NewReminderService(gw, relayClient)

	guard := redisrepo.NewFireGuard(a.redis, a.config.Redis.GuardTTL)
	a.consumer = worker.NewConsumer(a.scheduler, registry, guard, a.alarms, a.rabbit, worker.Config{
		Tolerance:  a.config.Scheduler.FireTolerance,
		StaleAfter: a.config.Scheduler.StaleAfter,
	})
	a.sweeper = sweeper.NewSweeper(registry, a.alarms, sweeper.Config{
		Spec:  a.config.Scheduler.SweepSpec,
		Grace: a.config.Scheduler.SweepGrace,
		Batch: a.config.Scheduler.SweepBatch,
	})

	return nil
}

// gatewayTransports собирает транспорты бэкенда: функция, если настроена, затем прямой HTTP.
func (a *Application) gatewayTransports() ([]gateway.Transport, error) {
	var transports []gateway.Transport
	if a.config.Backend.FunctionURL != "" {
		transports = append(transports, gateway.NewFunctionTransport(a.config.Backend.FunctionURL, a.config.Backend.Timeout))
	}
	if a.config.Backend.BaseURL != "" {
		transports = append(transports, gateway.NewDirectTransport(a.config.Backend.BaseURL, a.config.Backend.Timeout))
	}
	if len(transports) == 0 {
		return nil, errors.New("backend: neither functionurl nor baseurl is configured")
	}
	return transports, nil
}

// setupHTTPServer настраивает HTTP сервер.
func (a *Application) setupHTTPServer() error {
	a.server = ginext.New(gin.ReleaseMode)
	a.server.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowCredentials: true,
	}))

	a.server.Use(middleware.RequestIDMiddleware())
	a.server.Use(middleware.LoggingMiddleware())
	h := handlers.NewHandlersSet(a.service)

	api := a.server.RouterGroup.Group("api/v1")
	reminders := api.Group("reminders", middleware.BearerAuthMiddleware())
	reminders.POST("", h.CreateReminderHandler)
	reminders.GET("", h.ListRemindersHandler)
	reminders.GET("/:id", h.GetReminderHandler)
	reminders.DELETE("/:id", h.DeleteReminderHandler)

	notifications := api.Group("notifications", middleware.BearerAuthMiddleware())
	notifications.POST("/send", h.SendNotificationHandler)
	notifications.POST("/send-multicast", h.SendMulticastHandler)

	return nil
}

// startWorkers запускает обработчик срабатываний и sweeper.
func (a *Application) startWorkers(ctx context.Context) error {
	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	a.consumerErr = make(chan error, 1)
	a.consumerDone = make(chan struct{})
	go func() {
		defer close(a.consumerDone)
		err := a.consumer.Start(ctx, a.config.RabbitMQ.FireQueue,
			a.config.RabbitMQ.Workers, a.config.RabbitMQ.Prefetch)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("fire consumer stopped with error")
		}
		a.consumerErr <- err
	}()

	zlog.Logger.Info().Msg("Workers started successfully")
	return nil
}

// waitConsumer ждет, пока обработчик срабатываний доведет начатые доставки.
// Ожидание ограничено таймаутом удержания с запасом.
func (a *Application) waitConsumer() {
	if a.consumerDone == nil {
		return
	}
	timeout := a.config.Scheduler.HoldTimeout
	if timeout <= 0 {
		timeout = scheduler.DefaultHoldTimeout
	}
	select {
	case <-a.consumerDone:
	case <-time.After(timeout + 5*time.Second):
		zlog.Logger.Warn().Msg("fire consumer did not stop in time")
	}
}

// cleanup освобождает ресурсы.
func (a *Application) cleanup() {
	zlog.Logger.Info().Msg("Cleaning up resources...")

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	a.waitConsumer()

	if a.rabbit != nil {
		_ = a.rabbit.Close()
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}

	if a.inhibitor != nil {
		a.inhibitor.Close()
	}

	if a.db != nil {
		_ = a.db.Master.Close()
	}

	zlog.Logger.Info().Msg("Cleanup completed")
}
