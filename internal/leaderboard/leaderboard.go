package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/labstack/gommon/log"

	"classmaster/internal/common"
)

const (
	StartingPoints       = 100
	DefaultAnonymousName = "Anonymous Student"
)

// Entry is one student's standing in one course.
type Entry struct {
	StudentID     string    `json:"student_id" db:"student_id"`
	CourseID      string    `json:"course_code" db:"course_code"`
	TotalPoints   int       `json:"total_points" db:"total_points"`
	IsAnonymous   bool      `json:"is_anonymous" db:"is_anonymous"`
	AnonymousName *string   `json:"anonymous_name,omitempty" db:"anonymous_name"`
	LastUpdated   time.Time `json:"last_updated" db:"last_updated"`
	StudentName   string    `json:"-" db:"student_name"`
}

// DisplayName is the real name unless the student opted into anonymity.
func (e Entry) DisplayName() string {
	if !e.IsAnonymous {
		return e.StudentName
	}
	if e.AnonymousName != nil && *e.AnonymousName != "" {
		return *e.AnonymousName
	}
	return DefaultAnonymousName
}

// Standing is the public view of an entry.
type Standing struct {
	Rank        int       `json:"rank"`
	DisplayName string    `json:"display_name"`
	TotalPoints int       `json:"total_points"`
	IsAnonymous bool      `json:"is_anonymous"`
	LastUpdated time.Time `json:"last_updated"`
}

// Ledger is the part of the store the scoring path needs. Inside a task transaction
// ListEntries locks the course's rows so concurrent awards serialize.
type Ledger interface {
	ListEntries(ctx context.Context, courseID string) ([]Entry, error)
	AddPoints(ctx context.Context, studentID, courseID string, points int, at time.Time) (Entry, error)
}

// Store persists leaderboard entries and reads the enrollment and user collaborators.
type Store interface {
	Ledger
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	// PreferredAnonymousName returns nil when the student has none on file.
	PreferredAnonymousName(ctx context.Context, studentID string) (*string, error)
	// InsertEntry reports false when the entry already existed.
	InsertEntry(ctx context.Context, e Entry) (bool, error)
	GetEntry(ctx context.Context, studentID, courseID string) (Entry, error)
	UpdateAnonymity(ctx context.Context, studentID, courseID string, anonymous bool, name string) (Entry, error)
}

// Service implements the leaderboard operations.
type Service struct {
	store Store
	now   func() time.Time
	log   *log.Logger
}

func NewService(store Store, logger *log.Logger) *Service {
	return &Service{store: store, now: time.Now, log: logger}
}

// WithClock replaces the wall clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initialize creates the enrollment-time entry with the starting points. Calling it again
// for the same pair is a no-op that returns the existing entry.
func (s *Service) Initialize(ctx context.Context, studentID, courseID string) (Entry, error) {
	enrolled, err := s.store.IsEnrolled(ctx, studentID, courseID)
	if err != nil {
		return Entry{}, err
	}
	if !enrolled {
		return Entry{}, fmt.Errorf("student %s is not enrolled in %s: %w", studentID, courseID, common.ErrForbidden)
	}

	name, err := s.anonymousName(ctx, studentID)
	if err != nil {
		return Entry{}, err
	}
	created, err := s.store.InsertEntry(ctx, Entry{
		StudentID:     studentID,
		CourseID:      courseID,
		TotalPoints:   StartingPoints,
		AnonymousName: &name,
		LastUpdated:   s.now().UTC(),
	})
	if err != nil {
		return Entry{}, err
	}
	if created {
		s.log.Infof("leaderboard entry created student=%s course=%s", studentID, courseID)
	}
	return s.store.GetEntry(ctx, studentID, courseID)
}

// Award adds points to a running total outside of a task transaction.
func (s *Service) Award(ctx context.Context, studentID, courseID string, points int) (Entry, error) {
	if points < 0 {
		return Entry{}, fmt.Errorf("negative award %d: %w", points, common.ErrBadRequest)
	}
	return s.store.AddPoints(ctx, studentID, courseID, points, s.now().UTC())
}

// SetAnonymity toggles the flag and refreshes the stored anonymous display name.
func (s *Service) SetAnonymity(ctx context.Context, studentID, courseID string, anonymous bool) (Entry, error) {
	if _, err := s.store.GetEntry(ctx, studentID, courseID); err != nil {
		return Entry{}, err
	}
	name, err := s.anonymousName(ctx, studentID)
	if err != nil {
		return Entry{}, err
	}
	return s.store.UpdateAnonymity(ctx, studentID, courseID, anonymous, name)
}

// Rank returns the course standings.
func (s *Service) Rank(ctx context.Context, courseID string) ([]Standing, error) {
	entries, err := s.store.ListEntries(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return Rank(entries), nil
}

func (s *Service) anonymousName(ctx context.Context, studentID string) (string, error) {
	preferred, err := s.store.PreferredAnonymousName(ctx, studentID)
	if err != nil {
		return "", err
	}
	if preferred == nil || *preferred == "" {
		return DefaultAnonymousName, nil
	}
	return *preferred, nil
}

// Rank orders entries by points descending; on a tie the entry updated earlier ranks higher.
func Rank(entries []Entry) []Standing {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TotalPoints != sorted[j].TotalPoints {
			return sorted[i].TotalPoints > sorted[j].TotalPoints
		}
		return sorted[i].LastUpdated.Before(sorted[j].LastUpdated)
	})

	out := make([]Standing, 0, len(sorted))
	for i, e := range sorted {
		out = append(out, Standing{
			Rank:        i + 1,
			DisplayName: e.DisplayName(),
			TotalPoints: e.TotalPoints,
			IsAnonymous: e.IsAnonymous,
			LastUpdated: e.LastUpdated,
		})
	}
	return out
}
