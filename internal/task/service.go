package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"classmaster/internal/common"
	"classmaster/internal/leaderboard"
	"classmaster/internal/metrics"
	"classmaster/internal/queue"
	"classmaster/internal/scoring"
)

const maxTitleLen = 255

// Tx is the transactional view used by a status update. Every call runs inside one
// database transaction; the ledger reads lock the course's leaderboard rows.
type Tx interface {
	leaderboard.Ledger
	// LockTask loads an owned task with its announcement and locks the row.
	LockTask(ctx context.Context, ownerID, taskID string) (Task, error)
	SetStatus(ctx context.Context, taskID string, status Status, at time.Time) (Task, error)
	CreateTask(ctx context.Context, t Task) (Task, error)
}

// Store persists tasks and reads the announcement and enrollment collaborators.
type Store interface {
	// InTx runs fn in a transaction, committing only when fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
	CreateTask(ctx context.Context, t Task) (Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]Task, error)
	GetAnnouncement(ctx context.Context, id string) (Announcement, error)
	SectionStudents(ctx context.Context, courseID string, secNumber int) ([]string, error)
	// CreateTasks inserts tasks skipping (owner, announcement) pairs that already exist and
	// reports how many rows were new.
	CreateTasks(ctx context.Context, tasks []Task) (int, error)
	// CompleteExpiredQuizzes marks pending quiz tasks whose deadline is before now as
	// completed in one statement.
	CompleteExpiredQuizzes(ctx context.Context, now time.Time) (int, error)
}

// Service runs the task state machine.
type Service struct {
	store   Store
	engine  scoring.Engine
	events  queue.Queue
	metrics *metrics.Metrics
	now     func() time.Time
	log     *log.Logger
}

func NewService(store Store, engine scoring.Engine, logger *log.Logger) *Service {
	return &Service{store: store, engine: engine, now: time.Now, log: logger}
}

// WithEvents publishes a StatusChanged event on q after each committed update.
func (s *Service) WithEvents(q queue.Queue) *Service {
	s.events = q
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UpdateStatus applies a manual status change requested by the task owner. The task lock,
// the leaderboard read and the award share one transaction.
func (s *Service) UpdateStatus(ctx context.Context, actorID, taskID string, status Status) (Result, error) {
	status, err := ParseStatus(string(status))
	if err != nil {
		return Result{}, err
	}

	var (
		res  Result
		prev Task
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTask(ctx, actorID, taskID)
		if err != nil {
			return err
		}
		prev = t

		eff, err := Decide(t, status)
		if err != nil {
			s.metrics.Transition(string(t.Category()), "forbidden")
			return err
		}

		now := s.now().UTC()
		updated, err := tx.SetStatus(ctx, t.ID, status, now)
		if err != nil {
			return err
		}
		res = Result{Task: updated}

		if eff.SpawnCheck {
			check, err := tx.CreateTask(ctx, Task{
				ID:        uuid.NewString(),
				OwnerID:   t.OwnerID,
				Title:     CheckTitle(t.Title),
				Status:    StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
				OwnerRole: t.OwnerRole,
			})
			if err != nil {
				return err
			}
			res.CheckTask = &check
		}

		if eff.Score {
			return s.award(ctx, tx, t, now, &res)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.metrics.Transition(string(prev.Category()), "accepted")
	if res.Scored {
		s.metrics.PointsAwarded(res.Points)
	}
	s.publish(ctx, prev, res)
	return res, nil
}

// award scores a student's assignment completion and adds it to the leaderboard.
func (s *Service) award(ctx context.Context, tx Tx, t Task, completedAt time.Time, res *Result) error {
	if t.CourseID == nil {
		return nil
	}
	deadline, ok := t.EffectiveDeadline()
	if !ok {
		s.log.Debugf("task %s has no deadline, not scored", t.ID)
		return nil
	}

	entries, err := tx.ListEntries(ctx, *t.CourseID)
	if err != nil {
		return err
	}
	var (
		current int
		found   bool
		peers   = make([]int, 0, len(entries))
	)
	for _, e := range entries {
		if e.StudentID == t.OwnerID {
			current, found = e.TotalPoints, true
			continue
		}
		peers = append(peers, e.TotalPoints)
	}
	if !found {
		s.log.Warnf("student %s has no leaderboard entry in %s, completion of task %s not scored",
			t.OwnerID, *t.CourseID, t.ID)
		return nil
	}

	score := s.engine.Score(scoring.Input{
		Deadline:    deadline,
		CompletedAt: completedAt,
		Current:     current,
		Peers:       peers,
	})
	if _, err := tx.AddPoints(ctx, t.OwnerID, *t.CourseID, score.Points, completedAt); err != nil {
		return err
	}
	res.Points, res.Scored, res.Score = score.Points, true, &score
	s.log.Infof("awarded %d points student=%s course=%s task=%s hours_from_deadline=%.2f bonus=%d",
		score.Points, t.OwnerID, *t.CourseID, t.ID, score.HoursFromDue, score.CompetitiveBonus)
	return nil
}

func (s *Service) publish(ctx context.Context, prev Task, res Result) {
	if s.events == nil {
		return
	}
	evt := StatusChanged{
		TaskID:   res.Task.ID,
		OwnerID:  res.Task.OwnerID,
		Category: prev.Category(),
		From:     prev.Status,
		To:       res.Task.Status,
		Scored:   res.Scored,
		Points:   res.Points,
		At:       res.Task.UpdatedAt,
	}
	if res.CheckTask != nil {
		evt.CheckTaskID = res.CheckTask.ID
	}
	msg, err := queue.NewMessage(EventStatusChanged, evt)
	if err == nil {
		err = s.events.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warnf("publish %s for task %s failed: %v", EventStatusChanged, res.Task.ID, err)
	}
}

// CreatePersonalTask adds a pending task with no announcement.
func (s *Service) CreatePersonalTask(ctx context.Context, ownerID, title string, dueDate *time.Time) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLen {
		return Task{}, fmt.Errorf("title must be 1-%d characters: %w", maxTitleLen, common.ErrBadRequest)
	}
	now := s.now().UTC()
	t := Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Status:    StatusPending,
		DueDate:   dateOnly(dueDate),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.store.CreateTask(ctx, t)
}

// ListTasks returns the owner's tasks, earliest due date first.
func (s *Service) ListTasks(ctx context.Context, ownerID string) ([]Task, error) {
	return s.store.ListTasks(ctx, ownerID)
}

// SyncAnnouncementTasks fans a quiz or assignment announcement out into one pending task for
// each student of the section and one for the authoring faculty member. Repeating the call
// creates only the missing tasks.
func (s *Service) SyncAnnouncementTasks(ctx context.Context, actorID, announcementID string) (int, error) {
	a, err := s.store.GetAnnouncement(ctx, announcementID)
	if err != nil {
		return 0, err
	}
	if a.FacultyID != actorID {
		return 0, fmt.Errorf("announcement %s belongs to another faculty member: %w", a.ID, common.ErrForbidden)
	}
	if !a.CreatesTasks() {
		return 0, nil
	}

	students, err := s.store.SectionStudents(ctx, a.CourseID, a.SecNumber)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	annID := a.ID
	owners := append([]string{a.FacultyID}, students...)
	tasks := make([]Task, 0, len(owners))
	for _, owner := range owners {
		tasks = append(tasks, Task{
			ID:             uuid.NewString(),
			OwnerID:        owner,
			Title:          a.Title,
			Status:         StatusPending,
			DueDate:        dateOnly(a.Deadline),
			AnnouncementID: &annID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	created, err := s.store.CreateTasks(ctx, tasks)
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.log.Infof("announcement %s fanned out to %d new tasks", a.ID, created)
	}
	return created, nil
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
