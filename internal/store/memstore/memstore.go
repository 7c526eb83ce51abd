// Package memstore is an in-memory implementation of the task and leaderboard stores for
// tests and local runs without Postgres. A transaction holds the store mutex for its whole
// duration and restores a snapshot when it fails.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"classmaster/internal/common"
	"classmaster/internal/leaderboard"
	"classmaster/internal/task"
)

type user struct {
	name          string
	role          string
	anonymousName *string
}

type enrollment struct {
	studentID string
	courseID  string
	secNumber int
}

type entryKey struct {
	studentID string
	courseID  string
}

type Store struct {
	mu            sync.Mutex
	users         map[string]user
	enrollments   []enrollment
	announcements map[string]task.Announcement
	tasks         map[string]task.Task
	seq           map[string]int
	next          int
	entries       map[entryKey]leaderboard.Entry
	faults        map[string]error
}

func New() *Store {
	return &Store{
		users:         make(map[string]user),
		announcements: make(map[string]task.Announcement),
		tasks:         make(map[string]task.Task),
		seq:           make(map[string]int),
		entries:       make(map[entryKey]leaderboard.Entry),
		faults:        make(map[string]error),
	}
}

// AddUser seeds a user; anonymousName may be nil.
func (s *Store) AddUser(id, name, role string, anonymousName *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = user{name: name, role: role, anonymousName: anonymousName}
}

func (s *Store) AddAnnouncement(a task.Announcement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announcements[a.ID] = a
}

func (s *Store) Enroll(studentID, courseID string, secNumber int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments = append(s.enrollments, enrollment{studentID: studentID, courseID: courseID, secNumber: secNumber})
}

// PutEntry seeds or overwrites a leaderboard entry.
func (s *Store) PutEntry(e leaderboard.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryKey{e.StudentID, e.CourseID}] = e
}

// InjectFault makes the named method return err until cleared with a nil err.
func (s *Store) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// Task returns the stored task with its joined fields.
func (s *Store) Task(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return s.view(t), true
}

// TasksOf returns every task of the owner in creation order.
func (s *Store) TasksOf(ownerID string) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			out = append(out, s.view(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

func (s *Store) fault(method string) error {
	if err, ok := s.faults[method]; ok {
		return fmt.Errorf("memstore.%s: %w", method, err)
	}
	return nil
}

// view fills the joined owner and announcement fields.
func (s *Store) view(t task.Task) task.Task {
	t.OwnerRole = s.users[t.OwnerID].role
	t.AnnouncementType, t.Deadline, t.CourseID = nil, nil, nil
	if t.AnnouncementID != nil {
		if a, ok := s.announcements[*t.AnnouncementID]; ok {
			typ, course := a.Type, a.CourseID
			t.AnnouncementType, t.CourseID = &typ, &course
			if a.Deadline != nil {
				d := *a.Deadline
				t.Deadline = &d
			}
		}
	}
	return t
}

func (s *Store) insert(t task.Task) (task.Task, error) {
	if _, ok := s.tasks[t.ID]; ok {
		return task.Task{}, fmt.Errorf("task %s exists: %w", t.ID, common.ErrConflict)
	}
	if t.AnnouncementID != nil {
		for _, other := range s.tasks {
			if other.OwnerID == t.OwnerID && other.AnnouncementID != nil && *other.AnnouncementID == *t.AnnouncementID {
				return task.Task{}, fmt.Errorf("task for announcement %s exists: %w", *t.AnnouncementID, common.ErrConflict)
			}
		}
	}
	t.OwnerRole, t.AnnouncementType, t.Deadline, t.CourseID = "", nil, nil, nil
	s.tasks[t.ID] = t
	s.next++
	s.seq[t.ID] = s.next
	return s.view(t), nil
}

func (s *Store) InTx(ctx context.Context, fn func(task.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("InTx"); err != nil {
		return err
	}

	tasks, seq, next, entries := maps.Clone(s.tasks), maps.Clone(s.seq), s.next, maps.Clone(s.entries)
	if err := fn(&tx{s: s}); err != nil {
		s.tasks, s.seq, s.next, s.entries = tasks, seq, next, entries
		return err
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateTask"); err != nil {
		return task.Task{}, err
	}
	return s.insert(t)
}

// ListTasks orders by due date (undated last), then creation.
func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListTasks"); err != nil {
		return nil, err
	}
	var out []task.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID {
			out = append(out, s.view(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DueDate, out[j].DueDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

func (s *Store) GetAnnouncement(ctx context.Context, id string) (task.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetAnnouncement"); err != nil {
		return task.Announcement{}, err
	}
	a, ok := s.announcements[id]
	if !ok {
		return task.Announcement{}, fmt.Errorf("announcement %s: %w", id, common.ErrNotFound)
	}
	return a, nil
}

func (s *Store) SectionStudents(ctx context.Context, courseID string, secNumber int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SectionStudents"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range s.enrollments {
		if e.courseID == courseID && e.secNumber == secNumber && !seen[e.studentID] {
			seen[e.studentID] = true
			ids = append(ids, e.studentID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CreateTasks(ctx context.Context, tasks []task.Task) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateTasks"); err != nil {
		return 0, err
	}
	created := 0
	for _, t := range tasks {
		if _, err := s.insert(t); err == nil {
			created++
		}
	}
	return created, nil
}

func (s *Store) CompleteExpiredQuizzes(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CompleteExpiredQuizzes"); err != nil {
		return 0, err
	}
	n := 0
	for id, t := range s.tasks {
		if t.Status != task.StatusPending || t.AnnouncementID == nil {
			continue
		}
		a, ok := s.announcements[*t.AnnouncementID]
		if !ok || a.Type != task.AnnouncementQuiz || a.Deadline == nil || !a.Deadline.Before(now) {
			continue
		}
		t.Status, t.UpdatedAt = task.StatusCompleted, now
		s.tasks[id] = t
		n++
	}
	return n, nil
}

func (s *Store) ListEntries(ctx context.Context, courseID string) ([]leaderboard.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEntries(courseID)
}

func (s *Store) listEntries(courseID string) ([]leaderboard.Entry, error) {
	if err := s.fault("ListEntries"); err != nil {
		return nil, err
	}
	var out []leaderboard.Entry
	for k, e := range s.entries {
		if k.courseID == courseID {
			e.StudentName = s.users[e.StudentID].name
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *Store) AddPoints(ctx context.Context, studentID, courseID string, points int, at time.Time) (leaderboard.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPoints(studentID, courseID, points, at)
}

func (s *Store) addPoints(studentID, courseID string, points int, at time.Time) (leaderboard.Entry, error) {
	if err := s.fault("AddPoints"); err != nil {
		return leaderboard.Entry{}, err
	}
	k := entryKey{studentID, courseID}
	e, ok := s.entries[k]
	if !ok {
		return leaderboard.Entry{}, fmt.Errorf("entry %s/%s: %w", studentID, courseID, common.ErrNotFound)
	}
	e.TotalPoints += points
	e.LastUpdated = at
	s.entries[k] = e
	e.StudentName = s.users[studentID].name
	return e, nil
}

func (s *Store) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IsEnrolled"); err != nil {
		return false, err
	}
	for _, e := range s.enrollments {
		if e.studentID == studentID && e.courseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) PreferredAnonymousName(ctx context.Context, studentID string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("PreferredAnonymousName"); err != nil {
		return nil, err
	}
	u, ok := s.users[studentID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", studentID, common.ErrNotFound)
	}
	return u.anonymousName, nil
}

func (s *Store) InsertEntry(ctx context.Context, e leaderboard.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("InsertEntry"); err != nil {
		return false, err
	}
	k := entryKey{e.StudentID, e.CourseID}
	if _, ok := s.entries[k]; ok {
		return false, nil
	}
	e.StudentName = ""
	s.entries[k] = e
	return true, nil
}

func (s *Store) GetEntry(ctx context.Context, studentID, courseID string) (leaderboard.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetEntry"); err != nil {
		return leaderboard.Entry{}, err
	}
	e, ok := s.entries[entryKey{studentID, courseID}]
	if !ok {
		return leaderboard.Entry{}, fmt.Errorf("entry %s/%s: %w", studentID, courseID, common.ErrNotFound)
	}
	e.StudentName = s.users[studentID].name
	return e, nil
}

func (s *Store) UpdateAnonymity(ctx context.Context, studentID, courseID string, anonymous bool, name string) (leaderboard.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateAnonymity"); err != nil {
		return leaderboard.Entry{}, err
	}
	k := entryKey{studentID, courseID}
	e, ok := s.entries[k]
	if !ok {
		return leaderboard.Entry{}, fmt.Errorf("entry %s/%s: %w", studentID, courseID, common.ErrNotFound)
	}
	e.IsAnonymous = anonymous
	e.AnonymousName = &name
	s.entries[k] = e
	e.StudentName = s.users[studentID].name
	return e, nil
}

// tx runs with the store mutex already held by InTx.
type tx struct {
	s *Store
}

func (t *tx) LockTask(ctx context.Context, ownerID, taskID string) (task.Task, error) {
	if err := t.s.fault("LockTask"); err != nil {
		return task.Task{}, err
	}
	tk, ok := t.s.tasks[taskID]
	if !ok || tk.OwnerID != ownerID {
		return task.Task{}, fmt.Errorf("task %s: %w", taskID, common.ErrNotFound)
	}
	return t.s.view(tk), nil
}

func (t *tx) SetStatus(ctx context.Context, taskID string, status task.Status, at time.Time) (task.Task, error) {
	if err := t.s.fault("SetStatus"); err != nil {
		return task.Task{}, err
	}
	tk, ok := t.s.tasks[taskID]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", taskID, common.ErrNotFound)
	}
	tk.Status, tk.UpdatedAt = status, at
	t.s.tasks[taskID] = tk
	return t.s.view(tk), nil
}

func (t *tx) CreateTask(ctx context.Context, tk task.Task) (task.Task, error) {
	if err := t.s.fault("CreateTask"); err != nil {
		return task.Task{}, err
	}
	return t.s.insert(tk)
}

func (t *tx) ListEntries(ctx context.Context, courseID string) ([]leaderboard.Entry, error) {
	return t.s.listEntries(courseID)
}

func (t *tx) AddPoints(ctx context.Context, studentID, courseID string, points int, at time.Time) (leaderboard.Entry, error) {
	return t.s.addPoints(studentID, courseID, points, at)
}
