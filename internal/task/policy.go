package task

import (
	"fmt"

	"classmaster/internal/common"
)

var allStatuses = []Status{StatusPending, StatusCompleted, StatusDelayed}

// manualEdges lists, per category and current status, the statuses a user may set by hand.
// Quiz tasks have no manual edges; the deadline sweeper is their only writer.
var manualEdges = map[Category]map[Status][]Status{
	CategoryQuiz: {},
	CategoryAssignment: {
		StatusPending: allStatuses,
		StatusDelayed: allStatuses,
	},
	CategoryPersonal: {
		StatusPending:   allStatuses,
		StatusDelayed:   allStatuses,
		StatusCompleted: allStatuses,
	},
}

// Effects are the side effects an accepted transition fires.
type Effects struct {
	SpawnCheck bool
	Score      bool
}

// Allowed reports whether a manual transition exists in the category's graph.
func Allowed(c Category, from, to Status) bool {
	for _, s := range manualEdges[c][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Decide validates a manual transition for t and returns its side effects.
func Decide(t Task, to Status) (Effects, error) {
	c := t.Category()
	switch {
	case c == CategoryQuiz:
		return Effects{}, fmt.Errorf("quizzes are auto-completed by deadline, not manually updatable: %w", common.ErrForbidden)
	case c == CategoryAssignment && t.Status == StatusCompleted:
		return Effects{}, fmt.Errorf("assignment task is already completed: %w", common.ErrForbidden)
	case !Allowed(c, t.Status, to):
		return Effects{}, fmt.Errorf("%s task cannot move from %s to %s: %w", c, t.Status, to, common.ErrForbidden)
	}

	var eff Effects
	graded := c == CategoryQuiz || c == CategoryAssignment
	if graded && t.IsFacultyOwned() && (to == StatusCompleted || to == StatusDelayed) {
		eff.SpawnCheck = true
	}
	if c == CategoryAssignment && t.OwnerRole == RoleStudent && to == StatusCompleted {
		eff.Score = true
	}
	return eff, nil
}

// CheckTitle is the title of the review reminder spawned for faculty.
func CheckTitle(title string) string {
	return "Check " + title
}
