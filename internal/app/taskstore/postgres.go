package taskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nuid"
	"github.com/taskflow/taskflow/internal/app/taskview"
)

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  task_id text PRIMARY KEY,
  user_id text NOT NULL,
  title text NOT NULL CHECK (btrim(title) <> ''),
  description text NOT NULL DEFAULT '',
  due_date date,
  completed boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createTasksUserIndexSQL = `
CREATE INDEX IF NOT EXISTS tasks_user_id_idx ON tasks (user_id, created_at DESC)`

const selectTaskColumns = `task_id, title, description, due_date, completed, created_at, updated_at`

// Postgres keeps every user's tasks in one table; each statement is scoped by user_id.
type Postgres struct {
	Pool  *pgxpool.Pool
	NewID func() string
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool, NewID: nuid.Next}
}

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createTasksSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createTasksUserIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *Postgres) Create(ctx context.Context, userID string, fields taskview.Fields) (string, error) {
	id := r.NewID()
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO tasks (task_id, user_id, title, description, due_date, completed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, userID, fields.Title, fields.Description, dateArg(fields.DueDate),
		fields.Completed, fields.CreatedAt, fields.UpdatedAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Postgres) Get(ctx context.Context, userID, id string) (taskview.Task, error) {
	row := r.Pool.QueryRow(ctx,
		`SELECT `+selectTaskColumns+` FROM tasks WHERE task_id = $1 AND user_id = $2`,
		id, userID,
	)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return taskview.Task{}, fmt.Errorf("task %s: %w", id, taskview.ErrNotFound)
		}
		return taskview.Task{}, err
	}
	return t, nil
}

// Update applies patch in a single statement, so a failure writes nothing.
func (r *Postgres) Update(ctx context.Context, userID, id string, patch taskview.Patch) error {
	args := []any{id, userID}
	sets := make([]string, 0, 5)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.ClearDueDate {
		set("due_date", nil)
	} else if patch.DueDate != nil {
		set("due_date", dateArg(patch.DueDate))
	}
	if patch.Completed != nil {
		set("completed", *patch.Completed)
	}
	set("updated_at", patch.UpdatedAt)

	res, err := r.Pool.Exec(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = $1 AND user_id = $2`,
		args...,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, taskview.ErrNotFound)
	}
	return nil
}

func (r *Postgres) Delete(ctx context.Context, userID, id string) error {
	res, err := r.Pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, taskview.ErrNotFound)
	}
	return nil
}

// List returns the full collection of userID in insertion order.
func (r *Postgres) List(ctx context.Context, userID string) ([]taskview.Task, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT `+selectTaskColumns+`
		 FROM tasks
		 WHERE user_id = $1
		 ORDER BY created_at ASC, task_id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]taskview.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanTask(row pgx.Row) (taskview.Task, error) {
	var (
		t   taskview.Task
		due *time.Time
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &due, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return taskview.Task{}, err
	}
	if due != nil {
		d := taskview.DateOf(*due)
		t.DueDate = &d
	}
	return t, nil
}

func dateArg(d *taskview.Date) any {
	if d == nil {
		return nil
	}
	return d.Time()
}
