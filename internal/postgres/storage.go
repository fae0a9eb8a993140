package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sf7293/async-queue/db"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

const (
	insertTaskStatusChangeSQL = `INSERT INTO task_status_change_history (task_id, model, old_status, new_status, result, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	selectTaskStatusChangeHistorySQL = `SELECT id, task_id, model, old_status, new_status, result, created_at
FROM task_status_change_history
WHERE task_id = $1
ORDER BY id`
)

// undefinedTable is the SQLSTATE postgres reports before migrations ran
const undefinedTable = "42P01"

type storage struct {
	pool *pgxpool.Pool
}

// RunMigrations applies the embedded migrations against migrationUri
func RunMigrations(migrationUri string) (err error) {
	d, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, migrationUri)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Error("Error occurred while closing migration instance", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5), ctx))

	if err != nil {
		return nil, err
	}

	return &storage{
		pool: pool,
	}, nil
}

func (s *storage) InsertTaskStatusChange(ctx context.Context, change *domain.TaskStatusChangeHistory) (err error) {
	var resultJSON pgtype.JSONB
	if change.Result != nil {
		marshalledResult, err := json.Marshal(change.Result)
		if err != nil {
			return err
		}
		if err = resultJSON.Set(marshalledResult); err != nil {
			return err
		}
	} else {
		resultJSON.Status = pgtype.Null
	}

	createdAt := change.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var tag pgconn.CommandTag
	tag, err = s.pool.Exec(ctx, insertTaskStatusChangeSQL,
		change.TaskID,
		change.Model,
		string(change.OldStatus),
		string(change.NewStatus),
		resultJSON,
		createdAt.UTC(),
	)
	if err != nil {
		return wrapPgError(err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("inserted %d rows for task %s: %w", tag.RowsAffected(), change.TaskID, errval.ErrInternal)
	}

	return nil
}

func (s *storage) GetTaskStatusChangeHistory(ctx context.Context, taskID string) ([]*domain.TaskStatusChangeHistory, error) {
	rows, err := s.pool.Query(ctx, selectTaskStatusChangeHistorySQL, taskID)
	if err != nil {
		return nil, wrapPgError(err)
	}
	defer rows.Close()

	var items []historyRow
	for rows.Next() {
		var item historyRow
		if err = rows.Scan(&item.ID, &item.TaskID, &item.Model, &item.OldStatus, &item.NewStatus, &item.Result, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapPgError(err)
	}

	if len(items) == 0 {
		return nil, errval.ErrNotFound
	}

	return convertTaskStatusChangeHistories(items)
}

func (s *storage) Ping(ctx context.Context) (err error) {
	return s.pool.Ping(ctx)
}

func (s *storage) Close() {
	s.pool.Close()
}

// historyRow mirrors one task_status_change_history row
type historyRow struct {
	ID        int64
	TaskID    string
	Model     string
	OldStatus string
	NewStatus string
	Result    pgtype.JSONB
	CreatedAt pgtype.Timestamptz
}

func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("history table is missing, run migrations: %w", errval.ErrUnavailable)
	}

	return err
}

func convertTaskStatusChangeHistory(item historyRow) (*domain.TaskStatusChangeHistory, error) {
	castedItem := &domain.TaskStatusChangeHistory{
		ID:             item.ID,
		TaskID:         item.TaskID,
		Model:          item.Model,
		OldStatus:      domain.TaskStatus(item.OldStatus),
		NewStatus:      domain.TaskStatus(item.NewStatus),
		CreatedAt:      item.CreatedAt.Time,
		CreatedAtStamp: item.CreatedAt.Time.Unix(),
	}

	if item.Result.Status == pgtype.Present {
		result := new(domain.TaskResult)
		if err := json.Unmarshal(item.Result.Bytes, result); err != nil {
			return nil, err
		}
		castedItem.Result = result
	}

	return castedItem, nil
}

func convertTaskStatusChangeHistories(items []historyRow) ([]*domain.TaskStatusChangeHistory, error) {
	castedItems := []*domain.TaskStatusChangeHistory{}
	for _, item := range items {
		castedItem, err := convertTaskStatusChangeHistory(item)
		if err != nil {
			return nil, err
		}
		castedItems = append(castedItems, castedItem)
	}

	return castedItems, nil
}
