package task

import (
	"fmt"
	"strings"
	"time"

	"classmaster/internal/common"
	"classmaster/internal/scoring"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDelayed   Status = "delayed"
)

// ParseStatus accepts exactly the three task statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusPending, StatusCompleted, StatusDelayed:
		return st, nil
	}
	return "", fmt.Errorf("%q is not one of pending, completed, delayed: %w", s, common.ErrInvalidStatus)
}

// Category decides which transition policy applies to a task.
type Category string

const (
	CategoryQuiz       Category = "quiz"
	CategoryAssignment Category = "assignment"
	// CategoryPersonal covers personal tasks and tasks from general announcements.
	CategoryPersonal Category = "personal"
)

const (
	AnnouncementQuiz       = "quiz"
	AnnouncementAssignment = "assignment"
	AnnouncementGeneral    = "general"
)

const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
)

// Task is a todo owned by one user, optionally derived from an announcement. The
// announcement fields are read through a left join and are nil for personal tasks.
type Task struct {
	ID             string     `json:"id" db:"id"`
	OwnerID        string     `json:"owner_id" db:"user_id"`
	Title          string     `json:"title" db:"title"`
	Status         Status     `json:"status" db:"status"`
	DueDate        *time.Time `json:"due_date,omitempty" db:"due_date"`
	AnnouncementID *string    `json:"announcement_id,omitempty" db:"announcement_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`

	OwnerRole        string     `json:"-" db:"owner_role"`
	AnnouncementType *string    `json:"announcement_type,omitempty" db:"announcement_type"`
	Deadline         *time.Time `json:"deadline,omitempty" db:"deadline"`
	CourseID         *string    `json:"course_code,omitempty" db:"course_code"`
}

// Category derives the policy category from the linked announcement.
func (t Task) Category() Category {
	if t.AnnouncementID == nil || t.AnnouncementType == nil {
		return CategoryPersonal
	}
	switch *t.AnnouncementType {
	case AnnouncementQuiz:
		return CategoryQuiz
	case AnnouncementAssignment:
		return CategoryAssignment
	default:
		return CategoryPersonal
	}
}

// EffectiveDeadline is the announcement deadline, else the due date at midnight UTC.
func (t Task) EffectiveDeadline() (time.Time, bool) {
	if t.Deadline != nil {
		return *t.Deadline, true
	}
	if t.DueDate != nil {
		d := t.DueDate.UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func (t Task) IsFacultyOwned() bool { return t.OwnerRole == RoleFaculty }

// Announcement is the collaborator record tasks are fanned out from.
type Announcement struct {
	ID        string     `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	Type      string     `json:"type" db:"type"`
	Deadline  *time.Time `json:"deadline,omitempty" db:"deadline"`
	CourseID  string     `json:"course_code" db:"course_code"`
	SecNumber int        `json:"sec_number" db:"sec_number"`
	FacultyID string     `json:"faculty_id" db:"faculty_id"`
}

// CreatesTasks reports whether the announcement type produces todos.
func (a Announcement) CreatesTasks() bool {
	return a.Type == AnnouncementQuiz || a.Type == AnnouncementAssignment
}

// Result is the outcome of a manual status update.
type Result struct {
	Task Task `json:"task"`
	// Points is the amount added to the leaderboard; only meaningful when Scored.
	Points    int   `json:"points_awarded"`
	Scored    bool  `json:"scored"`
	CheckTask *Task `json:"check_task,omitempty"`
	// Score is the breakdown behind Points.
	Score *scoring.Result `json:"score,omitempty"`
}

// EventStatusChanged is published after a manual update commits.
const EventStatusChanged = "task.status_changed"

// StatusChanged is the payload of EventStatusChanged.
type StatusChanged struct {
	TaskID      string    `json:"task_id"`
	OwnerID     string    `json:"owner_id"`
	Category    Category  `json:"category"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Scored      bool      `json:"scored"`
	Points      int       `json:"points"`
	CheckTaskID string    `json:"check_task_id,omitempty"`
	At          time.Time `json:"at"`
}
