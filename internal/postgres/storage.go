package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sf7293/task-dispatch/internal/domain"
	"github.com/sf7293/task-dispatch/internal/errval"
)

const taskColumns = "id, title, description, priority, status, created_at, started_at, completed_at, result, error"

type storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

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
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))

	if err != nil {
		return nil, err
	}

	return &storage{
		pool: pool,
	}, nil
}

func (s *storage) InsertTask(ctx context.Context, title string, description *string, priority domain.TaskPriority) (*domain.Task, error) {
	id := uuid.New()

	row := s.pool.QueryRow(ctx,
		"INSERT INTO tasks (id, title, description, priority, status) VALUES ($1, $2, $3, $4, $5) RETURNING "+taskColumns,
		id, title, description, string(priority), string(domain.StatusNew),
	)

	task, err := scanTask(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "23514" || pgErr.Code == "23502" || pgErr.Code == "22001") {
			return nil, fmt.Errorf("%w: %s", errval.ErrValidation, pgErr.Message)
		}

		return nil, err
	}

	return task, nil
}

func (s *storage) GetTaskByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errval.ErrNotFound
		}

		return nil, err
	}

	return task, nil
}

// TransitionTaskStatus is the compare-and-set primitive: the status check and
// the write happen in one UPDATE, so a concurrent actor racing on the same
// task always observes either the old or the new row, never a partial state.
func (s *storage) TransitionTaskStatus(ctx context.Context, id uuid.UUID, expected, new domain.TaskStatus, changes domain.TaskChanges) (*domain.Task, error) {
	if !domain.CanTransition(expected, new) {
		return nil, errval.ErrConflict
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE tasks SET
			status = $3,
			started_at = COALESCE($4, started_at),
			completed_at = COALESCE($5, completed_at),
			result = COALESCE($6, result),
			error = COALESCE($7, error)
		WHERE id = $1 AND status = $2
		RETURNING `+taskColumns,
		id, string(expected), string(new), changes.StartedAt, changes.CompletedAt, changes.Result, changes.Error,
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row exists with a different status, or not at all.
			if _, getErr := s.GetTaskByID(ctx, id); getErr != nil {
				return nil, getErr
			}

			return nil, errval.ErrConflict
		}

		return nil, err
	}

	return task, nil
}

func (s *storage) ListTasks(ctx context.Context, filter domain.ListTasksFilter, page, pageSize int32) ([]*domain.Task, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}

	where := ""
	args := []interface{}{}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	if filter.Priority != nil {
		args = append(args, string(*filter.Priority))
		if where == "" {
			where = fmt.Sprintf(" WHERE priority = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND priority = $%d", len(args))
		}
	}

	var total int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	limitArgs := append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf("SELECT %s FROM tasks%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		taskColumns, where, len(args)+1, len(args)+2)

	rows, err := s.pool.Query(ctx, query, limitArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

func (s *storage) GetOrphanedTasks(ctx context.Context, passedSeconds, limit int32) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE status = $1 AND created_at <= now() - make_interval(secs => $2) ORDER BY created_at ASC LIMIT $3",
		string(domain.StatusPending), passedSeconds, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	if len(tasks) == 0 {
		return nil, errval.ErrNotFound
	}

	return tasks, nil
}

func (s *storage) Ping(ctx context.Context) (err error) {
	return s.pool.Ping(ctx)
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task                   domain.Task
		id                     pgtype.UUID
		description            pgtype.Text
		priority, status       string
		startedAt, completedAt pgtype.Timestamptz
		result, errText        pgtype.Text
	)

	err := row.Scan(&id, &task.Title, &description, &priority, &status, &task.CreatedAt, &startedAt, &completedAt, &result, &errText)
	if err != nil {
		return nil, err
	}

	task.ID = uuid.UUID(id.Bytes)
	task.Priority = domain.TaskPriority(priority)
	task.Status = domain.TaskStatus(status)
	task.Description = textPtr(description)
	task.Result = textPtr(result)
	task.Error = textPtr(errText)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)

	return &task, nil
}

func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Status != pgtype.Present {
		return nil
	}

	s := t.String
	return &s
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Status != pgtype.Present {
		return nil
	}

	v := t.Time
	return &v
}
