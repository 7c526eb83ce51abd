package task

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"classmaster/internal/common"
	"classmaster/internal/leaderboard"
)

const taskSelect = `SELECT t.id, t.user_id, t.title, t.status, t.due_date, t.announcement_id,
		t.created_at, t.updated_at, u.role AS owner_role,
		a.type AS announcement_type, a.deadline, a.course_code
	FROM "Todo" t
	JOIN "User" u ON u.user_id = t.user_id
	LEFT JOIN "Announcement" a ON a.id = t.announcement_id`

// Repository persists tasks in Postgres.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// InTx begins a transaction, hands fn a Tx bound to it and commits when fn succeeds.
func (r *Repository) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return common.StoreError(err, "task.Begin")
	}
	defer tx.Rollback()

	if err := fn(&txRepo{Ledger: leaderboard.TxLedger(tx), tx: tx}); err != nil {
		return err
	}
	return common.StoreError(tx.Commit(), "task.Commit")
}

func (r *Repository) CreateTask(ctx context.Context, t Task) (Task, error) {
	return insertTask(ctx, r.db, t)
}

func (r *Repository) ListTasks(ctx context.Context, ownerID string) ([]Task, error) {
	var tasks []Task
	err := r.db.SelectContext(ctx, &tasks, taskSelect+`
		WHERE t.user_id = $1
		ORDER BY t.due_date ASC NULLS LAST, t.created_at ASC`, ownerID)
	if err != nil {
		return nil, common.StoreError(err, "task.ListTasks")
	}
	return tasks, nil
}

func (r *Repository) GetAnnouncement(ctx context.Context, id string) (Announcement, error) {
	var a Announcement
	err := r.db.GetContext(ctx, &a, `
		SELECT id, title, type, deadline, course_code, sec_number, faculty_id
		FROM "Announcement" WHERE id = $1`, id)
	if err != nil {
		return Announcement{}, common.StoreError(err, "task.GetAnnouncement")
	}
	return a, nil
}

func (r *Repository) SectionStudents(ctx context.Context, courseID string, secNumber int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT student_id FROM "Student_Section"
		WHERE course_code = $1 AND sec_number = $2
		ORDER BY student_id`, courseID, secNumber)
	if err != nil {
		return nil, common.StoreError(err, "task.SectionStudents")
	}
	return ids, nil
}

func (r *Repository) CreateTasks(ctx context.Context, tasks []Task) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, common.StoreError(err, "task.CreateTasks")
	}
	defer tx.Rollback()

	created := 0
	for _, t := range tasks {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO "Todo" (id, user_id, title, status, due_date, announcement_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, announcement_id) DO NOTHING`,
			t.ID, t.OwnerID, t.Title, string(t.Status), t.DueDate, t.AnnouncementID, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return 0, common.StoreError(err, "task.CreateTasks")
		}
		if n, err := res.RowsAffected(); err == nil {
			created += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, common.StoreError(err, "task.CreateTasks")
	}
	return created, nil
}

// CompleteExpiredQuizzes is a single UPDATE, so rows flipped by a concurrent manual
// update are simply no longer pending and are skipped.
func (r *Repository) CompleteExpiredQuizzes(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE "Todo" t
		SET status = 'completed', updated_at = $1
		FROM "Announcement" a
		WHERE a.id = t.announcement_id
			AND a.type = 'quiz'
			AND t.status = 'pending'
			AND a.deadline < $1`, now)
	if err != nil {
		return 0, common.StoreError(err, "task.CompleteExpiredQuizzes")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, common.StoreError(err, "task.CompleteExpiredQuizzes")
	}
	return int(n), nil
}

type txRepo struct {
	leaderboard.Ledger
	tx *sqlx.Tx
}

func (r *txRepo) LockTask(ctx context.Context, ownerID, taskID string) (Task, error) {
	var t Task
	err := r.tx.GetContext(ctx, &t, taskSelect+`
		WHERE t.id = $1 AND t.user_id = $2
		FOR UPDATE OF t`, taskID, ownerID)
	if err != nil {
		return Task{}, common.StoreError(err, "task.LockTask")
	}
	return t, nil
}

func (r *txRepo) SetStatus(ctx context.Context, taskID string, status Status, at time.Time) (Task, error) {
	if _, err := r.tx.ExecContext(ctx, `
		UPDATE "Todo" SET status = $2, updated_at = $3 WHERE id = $1`, taskID, string(status), at); err != nil {
		return Task{}, common.StoreError(err, "task.SetStatus")
	}
	var t Task
	if err := r.tx.GetContext(ctx, &t, taskSelect+` WHERE t.id = $1`, taskID); err != nil {
		return Task{}, common.StoreError(err, "task.SetStatus")
	}
	return t, nil
}

func (r *txRepo) CreateTask(ctx context.Context, t Task) (Task, error) {
	return insertTask(ctx, r.tx, t)
}

func insertTask(ctx context.Context, q sqlx.ExtContext, t Task) (Task, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO "Todo" (id, user_id, title, status, due_date, announcement_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.OwnerID, t.Title, string(t.Status), t.DueDate, t.AnnouncementID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Task{}, common.StoreError(err, "task.CreateTask")
	}
	return t, nil
}
