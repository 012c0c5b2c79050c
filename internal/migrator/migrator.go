package migrator

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrator обертка над golang-migrate для таблицы реестра триггеров.
type Migrator struct {
	migrate *migrate.Migrate
}

// NewMigrator создает мигратор для директории migrationsDir.
func NewMigrator(db *sql.DB, migrationsDir string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}

	if migrationsDir == "" {
		return nil, errors.New("migrations directory is empty")
	}

	if err := checkDir(migrationsDir); err != nil {
		return nil, err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		normalizePath(migrationsDir),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{m}, nil
}

// Up накатываем все непримененные миграции.
func (m *Migrator) Up() error {
	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Down откатываем последнюю примененную миграцию.
func (m *Migrator) Down() error {
	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Version возвращает текущую версию.
func (m *Migrator) Version() (uint, error) {
	ver, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, err
	}
	if dirty {
		return ver, fmt.Errorf("database is dirty at version %d (migration failed midway)", ver)
	}
	return ver, nil
}

// MigrateTo применяет миграции или откатывает их до указанной версии.
func (m *Migrator) MigrateTo(version uint) error {
	return m.migrate.Migrate(version)
}

// Close освобождаем ресурсы: источник миграций и драйвер postgres.
// Драйвер закрывает и переданный *sql.DB, после Close соединение использовать нельзя.
func (m *Migrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	return closeMigrate(m.migrate)
}

type migrateCloser interface {
	Close() (source error, database error)
}

func closeMigrate(c migrateCloser) error {
	serr, derr := c.Close()
	if serr != nil {
		serr = fmt.Errorf("close migration source: %w", serr)
	}
	if derr != nil {
		derr = fmt.Errorf("close migration database: %w", derr)
	}
	return errors.Join(serr, derr)
}
