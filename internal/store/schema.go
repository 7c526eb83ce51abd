package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// schema creates the tables this service owns ("Todo", "Leaderboard") and, for local
// setups, the collaborator tables it reads. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS "User" (
	user_id        TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	email          TEXT UNIQUE,
	role           TEXT NOT NULL CHECK (role IN ('student', 'faculty', 'admin')),
	anonymous_name TEXT
);

CREATE TABLE IF NOT EXISTS "Student_Section" (
	student_id  TEXT NOT NULL REFERENCES "User"(user_id) ON DELETE CASCADE,
	course_code TEXT NOT NULL,
	sec_number  INTEGER NOT NULL,
	PRIMARY KEY (student_id, course_code, sec_number)
);

CREATE TABLE IF NOT EXISTS "Announcement" (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	type        TEXT NOT NULL CHECK (type IN ('quiz', 'assignment', 'general')),
	deadline    TIMESTAMPTZ,
	course_code TEXT NOT NULL,
	sec_number  INTEGER NOT NULL,
	faculty_id  TEXT NOT NULL REFERENCES "User"(user_id)
);

CREATE TABLE IF NOT EXISTS "Todo" (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES "User"(user_id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'delayed')),
	due_date        DATE,
	announcement_id TEXT REFERENCES "Announcement"(id) ON DELETE CASCADE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, announcement_id)
);

CREATE INDEX IF NOT EXISTS idx_todo_user ON "Todo"(user_id);
CREATE INDEX IF NOT EXISTS idx_todo_pending ON "Todo"(announcement_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS "Leaderboard" (
	student_id     TEXT NOT NULL REFERENCES "User"(user_id) ON DELETE CASCADE,
	course_code    TEXT NOT NULL,
	total_points   INTEGER NOT NULL DEFAULT 100,
	is_anonymous   BOOLEAN NOT NULL DEFAULT FALSE,
	anonymous_name TEXT,
	last_updated   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (student_id, course_code)
);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "store.Migrate")
	}
	return nil
}
