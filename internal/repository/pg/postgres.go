package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ReminderNotifier/internal/domain"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

// TriggerRegistry реестр регистраций триггеров в PostgreSQL.
type TriggerRegistry struct {
	DB *dbpg.DB
}

// NewTriggerRegistry создает новый экземпляр TriggerRegistry.
func NewTriggerRegistry(db *dbpg.DB) *TriggerRegistry {
	return &TriggerRegistry{
		DB: db,
	}
}

// Upsert создает регистрацию или заменяет существующую с тем же кодом, увеличивая поколение.
// Если код уже занят другим напоминанием, старый триггер заменяется и в лог пишется предупреждение.
func (r *TriggerRegistry) Upsert(ctx context.Context, reg domain.TriggerRegistration) (int64, error) {
	sqlQuery := `WITH prev AS (
    SELECT reminder_id FROM trigger_registrations WHERE request_code = $1
)
INSERT INTO trigger_registrations (request_code, reminder_id, firing_time, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (request_code) DO UPDATE SET
    reminder_id = EXCLUDED.reminder_id,
    firing_time = EXCLUDED.firing_time,
    payload = EXCLUDED.payload,
    generation = trigger_registrations.generation + 1,
    fired_at = NULL,
    updated_at = NOW()
RETURNING generation, (SELECT reminder_id FROM prev)`

	payload, err := json.Marshal(reg.Payload)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("Error marshalling trigger payload")
		return 0, err
	}

	var (
		generation int64
		previous   sql.NullString
	)
	if err := r.DB.QueryRowContext(ctx, sqlQuery, reg.RequestCode, reg.ReminderID, reg.FiringTime, payload).
		Scan(&generation, &previous); err != nil {
		zlog.Logger.Error().Err(err).Msg("Error upserting trigger registration")
		return 0, err
	}
	if previous.Valid && previous.String != reg.ReminderID {
		zlog.Logger.Warn().
			Int32("request_code", reg.RequestCode).
			Str("reminder_id", reg.ReminderID).
			Str("replaced_reminder_id", previous.String).
			Msg("Request code collision, trigger of another reminder replaced")
	}

	zlog.Logger.Debug().Msgf("Upserted trigger code: %d reminder: %s firing: %v generation: %d",
		reg.RequestCode, reg.ReminderID, reg.FiringTime, generation)
	return generation, nil
}

// GetByCode получает регистрацию по коду запроса.
func (r *TriggerRegistry) GetByCode(ctx context.Context, code int32) (*domain.TriggerRegistration, error) {
	sqlQuery := `SELECT request_code, reminder_id, firing_time, payload,
       generation, fired_at, created_at, updated_at
	FROM trigger_registrations WHERE request_code = $1 LIMIT 1`

	reg, err := scanRegistration(r.DB.QueryRowContext(ctx, sqlQuery, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		zlog.Logger.Error().Err(err).Msg("Error scan trigger registration")
		return nil, err
	}
	return reg, nil
}

// MarkFired помечает поколение как сработавшее. Если регистрацию уже заменили, ничего не меняется.
func (r *TriggerRegistry) MarkFired(ctx context.Context, code int32, generation int64) error {
	sqlQuery := `UPDATE trigger_registrations SET fired_at = NOW(), updated_at = NOW()
	WHERE request_code = $1 AND generation = $2 AND fired_at IS NULL`

	res, err := r.DB.ExecContext(ctx, sqlQuery, code, generation)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("Error exec mark fired")
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		zlog.Logger.Warn().Msgf("Mark fired code: %d generation: %d No rows affected", code, generation)
	}
	return nil
}

// ListOverdue получает несработавшие регистрации с временем срабатывания до t.
// Если limit равен 0, он не включается в запрос.
func (r *TriggerRegistry) ListOverdue(ctx context.Context, t time.Time, limit int) ([]domain.TriggerRegistration, error) {
	sqlQuery := `SELECT request_code, reminder_id, firing_time, payload,
       generation, fired_at, created_at, updated_at
    FROM trigger_registrations
    WHERE fired_at IS NULL AND firing_time < $1
    ORDER BY firing_time`
	if limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.DB.QueryContext(ctx, sqlQuery, t)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("Error exec list overdue sql")
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var regs []domain.TriggerRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			zlog.Logger.Error().Err(err).Msg("Error scan list overdue sql")
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRegistration(row scanner) (*domain.TriggerRegistration, error) {
	var (
		reg        domain.TriggerRegistration
		payloadRaw []byte
		firedAt    sql.NullTime
	)
	if err := row.Scan(&reg.RequestCode, &reg.ReminderID, &reg.FiringTime, &payloadRaw,
		&reg.Generation, &firedAt, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadRaw, &reg.Payload); err != nil {
		zlog.Logger.Error().Err(err).Msg("Error unmarshalling trigger payload")
		return nil, err
	}
	if firedAt.Valid {
		reg.FiredAt = &firedAt.Time
	}
	return &reg, nil
}
