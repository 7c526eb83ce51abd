package task_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmaster/internal/common"
	"classmaster/internal/leaderboard"
	"classmaster/internal/logging"
	"classmaster/internal/queue"
	"classmaster/internal/scoring"
	"classmaster/internal/store/memstore"
	"classmaster/internal/task"
)

const course = "CSE220"

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

type fixture struct {
	store *memstore.Store
	svc   *task.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memstore.New()
	st.AddUser("fac-1", "Dr. Rahman", task.RoleFaculty, nil)
	st.AddUser("fac-2", "Dr. Karim", task.RoleFaculty, nil)
	st.AddUser("stu-1", "Ayesha", task.RoleStudent, nil)
	st.AddUser("stu-2", "Tanvir", task.RoleStudent, nil)
	st.Enroll("stu-1", course, 1)
	st.Enroll("stu-2", course, 1)

	for _, a := range []task.Announcement{
		{ID: "quiz-1", Title: "Quiz 1", Type: task.AnnouncementQuiz, Deadline: at(time.Hour)},
		{ID: "hw-early", Title: "Lab 3", Type: task.AnnouncementAssignment, Deadline: at(10 * time.Hour)},
		{ID: "hw-late", Title: "Lab 2", Type: task.AnnouncementAssignment, Deadline: at(-12 * time.Hour)},
		{ID: "hw-open", Title: "Project", Type: task.AnnouncementAssignment},
		{ID: "notice", Title: "Room change", Type: task.AnnouncementGeneral},
	} {
		a.CourseID, a.SecNumber, a.FacultyID = course, 1, "fac-1"
		st.AddAnnouncement(a)
	}
	st.PutEntry(leaderboard.Entry{StudentID: "stu-1", CourseID: course, TotalPoints: 100, LastUpdated: now.Add(-time.Hour)})

	svc := task.NewService(st, scoring.NewEngine(true), logging.Discard()).
		WithClock(func() time.Time { return now })
	return fixture{store: st, svc: svc}
}

// fanOut creates the announcement's tasks and returns the one owned by owner.
func (f fixture) fanOut(t *testing.T, announcementID, owner string) task.Task {
	t.Helper()
	_, err := f.svc.SyncAnnouncementTasks(context.Background(), "fac-1", announcementID)
	require.NoError(t, err)
	for _, tk := range f.store.TasksOf(owner) {
		if tk.AnnouncementID != nil && *tk.AnnouncementID == announcementID {
			return tk
		}
	}
	t.Fatalf("no %s task for %s", announcementID, owner)
	return task.Task{}
}

func (f fixture) points(t *testing.T, student string) int {
	t.Helper()
	e, err := f.store.GetEntry(context.Background(), student, course)
	require.NoError(t, err)
	return e.TotalPoints
}

func TestUpdateStatusQuizIsForbidden(t *testing.T) {
	f := newFixture(t)
	quiz := f.fanOut(t, "quiz-1", "stu-1")

	for _, s := range []task.Status{task.StatusPending, task.StatusCompleted, task.StatusDelayed} {
		_, err := f.svc.UpdateStatus(context.Background(), "stu-1", quiz.ID, s)
		assert.ErrorIs(t, err, common.ErrForbidden)
	}
	got, _ := f.store.Task(quiz.ID)
	assert.Equal(t, task.StatusPending, got.Status)
}

func TestUpdateStatusCompletedAssignmentIsForbidden(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-early", "stu-1")
	_, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	require.NoError(t, err)
	before := f.points(t, "stu-1")

	for _, s := range []task.Status{task.StatusPending, task.StatusCompleted, task.StatusDelayed} {
		_, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, s)
		assert.ErrorIs(t, err, common.ErrForbidden)
	}
	assert.Equal(t, before, f.points(t, "stu-1"))
}

func TestUpdateStatusScoresEarlyCompletion(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-early", "stu-1")

	res, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, res.Scored)
	assert.Equal(t, 155, res.Points)
	require.NotNil(t, res.Score)
	assert.Equal(t, 30.0, res.Score.AssignmentPoints)
	assert.Equal(t, scoring.SoleStudentBonus, res.Score.CompetitiveBonus)
	assert.Equal(t, task.StatusCompleted, res.Task.Status)
	assert.Nil(t, res.CheckTask)

	e, err := f.store.GetEntry(context.Background(), "stu-1", course)
	require.NoError(t, err)
	assert.Equal(t, 255, e.TotalPoints)
	assert.Equal(t, now, e.LastUpdated)
}

func TestUpdateStatusLatePenaltyIsCapped(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-late", "stu-1")

	res, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, -100.0, res.Score.AssignmentPoints)
	assert.Equal(t, 25, res.Points)
	assert.Equal(t, 125, f.points(t, "stu-1"))
}

func TestUpdateStatusWithoutDeadlineAwardsNothing(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-open", "stu-1")

	res, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, res.Scored)
	assert.Equal(t, task.StatusCompleted, res.Task.Status)
	assert.Equal(t, 100, f.points(t, "stu-1"))
}

func TestUpdateStatusWithoutEntrySkipsAward(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-early", "stu-2")

	res, err := f.svc.UpdateStatus(context.Background(), "stu-2", hw.ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, res.Scored)
	assert.Zero(t, res.Points)
	assert.Equal(t, task.StatusCompleted, res.Task.Status)

	_, err = f.store.GetEntry(context.Background(), "stu-2", course)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPersonalTaskNeverScores(t *testing.T) {
	f := newFixture(t)
	own, err := f.svc.CreatePersonalTask(context.Background(), "stu-1", "Read chapter 4", at(-48*time.Hour))
	require.NoError(t, err)

	for _, s := range []task.Status{task.StatusCompleted, task.StatusPending, task.StatusDelayed, task.StatusCompleted} {
		res, err := f.svc.UpdateStatus(context.Background(), "stu-1", own.ID, s)
		require.NoError(t, err)
		assert.False(t, res.Scored)
		assert.Equal(t, s, res.Task.Status)
	}
	assert.Equal(t, 100, f.points(t, "stu-1"))
}

func TestGeneralAnnouncementCreatesNoTasks(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.SyncAnnouncementTasks(context.Background(), "fac-1", "notice")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.store.TasksOf("stu-1"))
}

func TestFacultyDelaySpawnsOneCheckTask(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-early", "fac-1")

	res, err := f.svc.UpdateStatus(context.Background(), "fac-1", hw.ID, task.StatusDelayed)
	require.NoError(t, err)
	require.NotNil(t, res.CheckTask)
	assert.False(t, res.Scored)

	var checks []task.Task
	for _, tk := range f.store.TasksOf("fac-1") {
		if tk.Title == "Check Lab 3" {
			checks = append(checks, tk)
		}
	}
	require.Len(t, checks, 1)
	assert.Equal(t, res.CheckTask.ID, checks[0].ID)
	assert.Equal(t, task.StatusPending, checks[0].Status)
	assert.Nil(t, checks[0].DueDate)
	assert.Nil(t, checks[0].AnnouncementID)
	assert.Equal(t, task.CategoryPersonal, checks[0].Category())

	// completing the spawned check task spawns nothing further
	res, err = f.svc.UpdateStatus(context.Background(), "fac-1", checks[0].ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.Nil(t, res.CheckTask)
}

func TestUpdateStatusRejectsOtherOwnersAndBadInput(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-early", "stu-1")

	_, err := f.svc.UpdateStatus(context.Background(), "stu-2", hw.ID, task.StatusCompleted)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), "stu-1", "missing", task.StatusCompleted)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.Status("done"))
	assert.ErrorIs(t, err, common.ErrInvalidStatus)
}

func TestAwardFailureRollsBackStatus(t *testing.T) {
	f := newFixture(t)
	hw := f.fanOut(t, "hw-early", "stu-1")
	f.store.InjectFault("AddPoints", common.ErrStoreUnavailable)

	_, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)

	got, _ := f.store.Task(hw.ID)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, 100, f.points(t, "stu-1"))

	f.store.InjectFault("AddPoints", nil)
	res, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 155, res.Points)
}

func TestConcurrentCompletionsSerialize(t *testing.T) {
	f := newFixture(t)
	f.store.PutEntry(leaderboard.Entry{StudentID: "stu-2", CourseID: course, TotalPoints: 100, LastUpdated: now.Add(-time.Hour)})
	ids := map[string]string{
		"stu-1": f.fanOut(t, "hw-early", "stu-1").ID,
		"stu-2": f.fanOut(t, "hw-early", "stu-2").ID,
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for student, id := range ids {
		student, id := student, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateStatus(context.Background(), student, id, task.StatusCompleted)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// whoever commits second sees the first award and lands at the 50th percentile
	got := []int{f.points(t, "stu-1"), f.points(t, "stu-2")}
	assert.ElementsMatch(t, []int{255, 245}, got)
}

func TestUpdateStatusPublishesEvent(t *testing.T) {
	f := newFixture(t)
	q := queue.NewInMemory(4)
	f.svc.WithEvents(q)
	hw := f.fanOut(t, "hw-early", "stu-1")

	_, err := f.svc.UpdateStatus(context.Background(), "stu-1", hw.ID, task.StatusCompleted)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-out
	require.Equal(t, task.EventStatusChanged, msg.Type)

	var evt task.StatusChanged
	require.NoError(t, msg.Decode(&evt))
	assert.Equal(t, hw.ID, evt.TaskID)
	assert.Equal(t, task.StatusPending, evt.From)
	assert.Equal(t, task.StatusCompleted, evt.To)
	assert.True(t, evt.Scored)
	assert.Equal(t, 155, evt.Points)
}

func TestSyncAnnouncementTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.SyncAnnouncementTasks(ctx, "fac-1", "hw-early")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.SyncAnnouncementTasks(ctx, "fac-1", "hw-early")
	require.NoError(t, err)
	assert.Zero(t, n)

	tasks := f.store.TasksOf("stu-2")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Lab 3", tasks[0].Title)
	assert.Equal(t, task.StatusPending, tasks[0].Status)
	require.NotNil(t, tasks[0].DueDate)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), *tasks[0].DueDate)

	_, err = f.svc.SyncAnnouncementTasks(ctx, "fac-2", "hw-early")
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = f.svc.SyncAnnouncementTasks(ctx, "fac-1", "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreatePersonalTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePersonalTask(ctx, "stu-1", "   ", nil)
	assert.ErrorIs(t, err, common.ErrBadRequest)

	due := time.Date(2026, 3, 20, 18, 45, 0, 0, time.UTC)
	tk, err := f.svc.CreatePersonalTask(ctx, "stu-1", " Revise ", &due)
	require.NoError(t, err)
	assert.Equal(t, "Revise", tk.Title)
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Nil(t, tk.AnnouncementID)
	assert.Equal(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), *tk.DueDate)

	f.store.InjectFault("CreateTask", common.ErrStoreUnavailable)
	_, err = f.svc.CreatePersonalTask(ctx, "stu-1", "Another", nil)
	assert.True(t, errors.Is(err, common.ErrStoreUnavailable))
}

func TestListTasksOrdersByDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePersonalTask(ctx, "stu-1", "undated", nil)
	require.NoError(t, err)
	_, err = f.svc.CreatePersonalTask(ctx, "stu-1", "later", at(72*time.Hour))
	require.NoError(t, err)
	_, err = f.svc.CreatePersonalTask(ctx, "stu-1", "sooner", at(24*time.Hour))
	require.NoError(t, err)

	tasks, err := f.svc.ListTasks(ctx, "stu-1")
	require.NoError(t, err)
	var titles []string
	for _, tk := range tasks {
		titles = append(titles, tk.Title)
	}
	assert.Equal(t, []string{"sooner", "later", "undated"}, titles)
}
