package leaderboard

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"classmaster/internal/common"
)

const entryColumns = `l.student_id, l.course_code, l.total_points, l.is_anonymous, l.anonymous_name,
	l.last_updated, u.name AS student_name`

// Repository persists leaderboard entries in Postgres.
type Repository struct {
	q    sqlx.ExtContext
	lock bool
}

// NewRepository creates a repo on the pool.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{q: db}
}

// TxLedger binds the ledger to an open transaction. Its reads take row locks on the
// course's entries until the transaction ends.
func TxLedger(tx *sqlx.Tx) Ledger {
	return &Repository{q: tx, lock: true}
}

// ListEntries returns every entry of a course.
func (r *Repository) ListEntries(ctx context.Context, courseID string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM "Leaderboard" l
		JOIN "User" u ON u.user_id = l.student_id
		WHERE l.course_code = $1
		ORDER BY l.total_points DESC, l.last_updated ASC`
	if r.lock {
		query += ` FOR UPDATE OF l`
	}
	var entries []Entry
	if err := sqlx.SelectContext(ctx, r.q, &entries, query, courseID); err != nil {
		return nil, common.StoreError(err, "leaderboard.ListEntries")
	}
	return entries, nil
}

// AddPoints adds points to the running total and stamps the update time.
func (r *Repository) AddPoints(ctx context.Context, studentID, courseID string, points int, at time.Time) (Entry, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE "Leaderboard"
		SET total_points = total_points + $3, last_updated = $4
		WHERE student_id = $1 AND course_code = $2
	`, studentID, courseID, points, at)
	if err != nil {
		return Entry{}, common.StoreError(err, "leaderboard.AddPoints")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Entry{}, common.StoreError(common.ErrNotFound, "leaderboard.AddPoints")
	}
	return r.GetEntry(ctx, studentID, courseID)
}

// IsEnrolled checks the section enrollment collaborator.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var enrolled bool
	err := sqlx.GetContext(ctx, r.q, &enrolled, `
		SELECT EXISTS (
			SELECT 1 FROM "Student_Section" WHERE student_id = $1 AND course_code = $2
		)
	`, studentID, courseID)
	if err != nil {
		return false, common.StoreError(err, "leaderboard.IsEnrolled")
	}
	return enrolled, nil
}

// PreferredAnonymousName returns the student's preferred anonymous name, if any.
func (r *Repository) PreferredAnonymousName(ctx context.Context, studentID string) (*string, error) {
	var name *string
	err := sqlx.GetContext(ctx, r.q, &name, `SELECT anonymous_name FROM "User" WHERE user_id = $1`, studentID)
	if err != nil {
		return nil, common.StoreError(err, "leaderboard.PreferredAnonymousName")
	}
	return name, nil
}

// InsertEntry creates the entry unless one exists for the pair.
func (r *Repository) InsertEntry(ctx context.Context, e Entry) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO "Leaderboard" (student_id, course_code, total_points, is_anonymous, anonymous_name, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, course_code) DO NOTHING
	`, e.StudentID, e.CourseID, e.TotalPoints, e.IsAnonymous, e.AnonymousName, e.LastUpdated)
	if err != nil {
		return false, common.StoreError(err, "leaderboard.InsertEntry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, common.StoreError(err, "leaderboard.InsertEntry")
	}
	return n == 1, nil
}

// GetEntry returns one entry; ErrNotFound when the student has none in the course.
func (r *Repository) GetEntry(ctx context.Context, studentID, courseID string) (Entry, error) {
	var e Entry
	err := sqlx.GetContext(ctx, r.q, &e, `SELECT `+entryColumns+`
		FROM "Leaderboard" l
		JOIN "User" u ON u.user_id = l.student_id
		WHERE l.student_id = $1 AND l.course_code = $2`, studentID, courseID)
	if err != nil {
		return Entry{}, common.StoreError(err, "leaderboard.GetEntry")
	}
	return e, nil
}

// UpdateAnonymity sets the anonymity flag and display name.
func (r *Repository) UpdateAnonymity(ctx context.Context, studentID, courseID string, anonymous bool, name string) (Entry, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE "Leaderboard" SET is_anonymous = $3, anonymous_name = $4
		WHERE student_id = $1 AND course_code = $2
	`, studentID, courseID, anonymous, name)
	if err != nil {
		return Entry{}, common.StoreError(err, "leaderboard.UpdateAnonymity")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Entry{}, common.StoreError(common.ErrNotFound, "leaderboard.UpdateAnonymity")
	}
	return r.GetEntry(ctx, studentID, courseID)
}
