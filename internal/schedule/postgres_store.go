package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// StoredTask is a task row owned by a user.
type StoredTask struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	Time        *string   `json:"time"`
	IsDone      bool      `json:"is_done"`
	CreatedAt   time.Time `json:"created_at"`
}

// Saved is a generated schedule as persisted for its owner.
type Saved struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Schedule  *Schedule `json:"schedule"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	CreateTask(ctx context.Context, userID, description string) (*StoredTask, error)
	ListTasks(ctx context.Context, userID string) ([]*StoredTask, error)
	SaveSchedule(ctx context.Context, userID string, s *Schedule) (*Saved, error)
	ListSchedules(ctx context.Context, userID string) ([]*Saved, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateTask(ctx context.Context, userID, description string) (*StoredTask, error) {
	query := `
		INSERT INTO tasks (user_id, description)
		VALUES ($1, $2)
		RETURNING id, is_done, created_at
	`
	t := StoredTask{UserID: userID, Description: description}
	err := s.db.QueryRow(ctx, query, userID, description).Scan(&t.ID, &t.IsDone, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string) ([]*StoredTask, error) {
	query := `
		SELECT id, user_id, description, time, is_done, created_at
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*StoredTask
	for rows.Next() {
		var t StoredTask
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Time, &t.IsDone, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) SaveSchedule(ctx context.Context, userID string, sched *Schedule) (*Saved, error) {
	content, err := json.Marshal(sched)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schedule: %w", err)
	}

	query := `
		INSERT INTO schedules (user_id, content)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	saved := Saved{UserID: userID, Schedule: sched}
	if err := s.db.QueryRow(ctx, query, userID, content).Scan(&saved.ID, &saved.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}
	return &saved, nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context, userID string) ([]*Saved, error) {
	query := `
		SELECT id, user_id, content, created_at
		FROM schedules
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var out []*Saved
	for rows.Next() {
		var saved Saved
		var content []byte
		if err := rows.Scan(&saved.ID, &saved.UserID, &content, &saved.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		var sched Schedule
		if err := json.Unmarshal(content, &sched); err != nil {
			return nil, fmt.Errorf("failed to decode schedule %s: %w", saved.ID, err)
		}
		saved.Schedule = &sched
		out = append(out, &saved)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return out, nil
}

// ToTasks strips stored rows down to what the planner prompt needs.
func ToTasks(stored []*StoredTask) []Task {
	tasks := make([]Task, 0, len(stored))
	for _, t := range stored {
		tasks = append(tasks, Task{Description: t.Description, Time: t.Time})
	}
	return tasks
}
