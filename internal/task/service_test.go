package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"tms/internal/jobs"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupService(t *testing.T) *Service {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// a single connection keeps every session on the same in-memory database
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&Task{}, &jobs.Job{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return &Service{DB: gdb}
}

func seedTask(t *testing.T, s *Service, userID uint64, title string) *Task {
	t.Helper()
	tk, err := s.Create(context.Background(), userID, CreateInput{Title: title})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", title, err)
	}
	return tk
}

func reload(t *testing.T, s *Service, id uint64) *Task {
	t.Helper()
	var tk Task
	if err := s.DB.First(&tk, id).Error; err != nil {
		t.Fatalf("reload task %d: %v", id, err)
	}
	return &tk
}

func pendingReminders(t *testing.T, s *Service, taskID uint64) int64 {
	t.Helper()
	var n int64
	err := s.DB.Model(&jobs.Job{}).
		Where("task_id = ? AND status = ?", taskID, jobs.StatusPending).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func TestCreateDefaults(t *testing.T) {
	s := setupService(t)

	tk, err := s.Create(context.Background(), 1, CreateInput{Title: "t1", Content: "c1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if tk.ID == 0 {
		t.Error("Create() did not assign an id")
	}
	if tk.AuthorID != 1 {
		t.Errorf("AuthorID = %d, want 1", tk.AuthorID)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want %q", tk.Priority, PriorityMedium)
	}
	if tk.Completed {
		t.Error("Completed = true, want false")
	}
}

func TestGetByIDOwnership(t *testing.T) {
	s := setupService(t)
	owned := seedTask(t, s, 1, "mine")

	tests := []struct {
		name    string
		userID  uint64
		taskID  uint64
		wantErr error
	}{
		{"owner reads own task", 1, owned.ID, nil},
		{"other user is forbidden", 2, owned.ID, ErrForbidden},
		{"missing task", 1, owned.ID + 100, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetByID(context.Background(), tt.userID, tt.taskID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetByID() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.ID != tt.taskID {
				t.Errorf("GetByID() id = %d, want %d", got.ID, tt.taskID)
			}
		})
	}
}

func TestUpdatePartial(t *testing.T) {
	s := setupService(t)
	tk := seedTask(t, s, 1, "original")

	got, err := s.Update(context.Background(), 1, tk.ID, UpdateInput{Completed: boolptr(true)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !got.Completed {
		t.Error("Completed = false after update to true")
	}
	if got.Title != "original" {
		t.Errorf("Title = %q, want unchanged %q", got.Title, "original")
	}

	// false must round-trip too, not be dropped as a zero value
	got, err = s.Update(context.Background(), 1, tk.ID, UpdateInput{Completed: boolptr(false)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Completed {
		t.Error("Completed = true after update to false")
	}

	got, err = s.Update(context.Background(), 1, tk.ID, UpdateInput{
		Title:    strptr("renamed"),
		Priority: strptr(PriorityHigh),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Title != "renamed" || got.Priority != PriorityHigh {
		t.Errorf("Update() = (%q, %q), want (renamed, high)", got.Title, got.Priority)
	}
}

func TestUpdateOwnership(t *testing.T) {
	s := setupService(t)
	tk := seedTask(t, s, 1, "mine")

	_, err := s.Update(context.Background(), 2, tk.ID, UpdateInput{Title: strptr("stolen")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Update() error = %v, want ErrForbidden", err)
	}
	if got := reload(t, s, tk.ID); got.Title != "mine" {
		t.Errorf("task mutated by non-owner: Title = %q", got.Title)
	}

	_, err = s.Update(context.Background(), 1, tk.ID+100, UpdateInput{Title: strptr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteOwnership(t *testing.T) {
	s := setupService(t)
	tk := seedTask(t, s, 1, "mine")

	if err := s.Delete(context.Background(), 2, tk.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete() by non-owner error = %v, want ErrForbidden", err)
	}
	if err := s.Delete(context.Background(), 1, tk.ID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() of missing task error = %v, want ErrNotFound", err)
	}

	if err := s.Delete(context.Background(), 1, tk.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.GetByID(context.Background(), 1, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
}

func TestListPagination(t *testing.T) {
	s := setupService(t)

	for i := 0; i < 25; i++ {
		seedTask(t, s, 1, "task")
	}
	seedTask(t, s, 2, "someone else's")

	rows, total, err := s.List(context.Background(), 1, 1, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}
	if len(rows) != 10 {
		t.Errorf("page 1 len = %d, want 10", len(rows))
	}

	rows, _, err = s.List(context.Background(), 1, 3, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("page 3 len = %d, want 5", len(rows))
	}

	rows, _, err = s.List(context.Background(), 1, 4, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("page 4 len = %d, want 0", len(rows))
	}

	// defaults kick in for nonsense paging values
	rows, _, err = s.List(context.Background(), 1, -3, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != DefaultLimit {
		t.Errorf("default page len = %d, want %d", len(rows), DefaultLimit)
	}
}

func TestListOrdering(t *testing.T) {
	s := setupService(t)

	first := seedTask(t, s, 1, "first")
	seedTask(t, s, 1, "second")
	seedTask(t, s, 1, "third")

	// touching the oldest task moves it to the front
	time.Sleep(10 * time.Millisecond)
	if _, err := s.Update(context.Background(), 1, first.ID, UpdateInput{Content: strptr("touched")}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	rows, _, err := s.List(context.Background(), 1, 1, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
	if rows[0].ID != first.ID {
		t.Errorf("most recently updated task not first: got id %d, want %d", rows[0].ID, first.ID)
	}
}

func TestBulkUpdateAtomicity(t *testing.T) {
	s := setupService(t)
	mine := seedTask(t, s, 1, "mine")
	theirs := seedTask(t, s, 2, "theirs")

	_, err := s.BulkUpdate(context.Background(), 1, []uint64{mine.ID, theirs.ID}, UpdateInput{Completed: boolptr(true)})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("BulkUpdate() error = %v, want ErrForbidden", err)
	}
	if got := reload(t, s, mine.ID); got.Completed {
		t.Error("owned task was mutated by a rejected bulk update")
	}
	if got := reload(t, s, theirs.ID); got.Completed {
		t.Error("foreign task was mutated by a rejected bulk update")
	}

	_, err = s.BulkUpdate(context.Background(), 1, []uint64{mine.ID, theirs.ID + 100}, UpdateInput{Completed: boolptr(true)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("BulkUpdate() with missing id error = %v, want ErrNotFound", err)
	}
	if got := reload(t, s, mine.ID); got.Completed {
		t.Error("owned task was mutated by a bulk update naming a missing id")
	}
}

func TestBulkUpdateSuccess(t *testing.T) {
	s := setupService(t)
	a := seedTask(t, s, 1, "a")
	b := seedTask(t, s, 1, "b")

	count, err := s.BulkUpdate(context.Background(), 1, []uint64{a.ID, b.ID}, UpdateInput{
		Completed: boolptr(true),
		Priority:  strptr(PriorityLow),
	})
	if err != nil {
		t.Fatalf("BulkUpdate() error = %v", err)
	}
	if count != 2 {
		t.Errorf("updated count = %d, want 2", count)
	}
	for _, id := range []uint64{a.ID, b.ID} {
		got := reload(t, s, id)
		if !got.Completed || got.Priority != PriorityLow {
			t.Errorf("task %d = (completed=%v, priority=%q), want (true, low)", id, got.Completed, got.Priority)
		}
	}

	// repeated ids collapse to one row
	count, err = s.BulkUpdate(context.Background(), 1, []uint64{a.ID, a.ID}, UpdateInput{Completed: boolptr(false)})
	if err != nil {
		t.Fatalf("BulkUpdate() error = %v", err)
	}
	if count != 1 {
		t.Errorf("updated count = %d, want 1", count)
	}
}

func TestReminderJobLifecycle(t *testing.T) {
	s := setupService(t)
	due := time.Now().Add(48 * time.Hour)

	tk, err := s.Create(context.Background(), 1, CreateInput{Title: "with due", DueDate: &due})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if n := pendingReminders(t, s, tk.ID); n != 1 {
		t.Fatalf("pending reminders after create = %d, want 1", n)
	}

	// completing the task cancels the reminder
	if _, err := s.Update(context.Background(), 1, tk.ID, UpdateInput{Completed: boolptr(true)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if n := pendingReminders(t, s, tk.ID); n != 0 {
		t.Fatalf("pending reminders after completion = %d, want 0", n)
	}

	// reopening with a new due date schedules exactly one reminder
	newDue := due.Add(24 * time.Hour)
	if _, err := s.Update(context.Background(), 1, tk.ID, UpdateInput{Completed: boolptr(false), DueDate: &newDue}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if n := pendingReminders(t, s, tk.ID); n != 1 {
		t.Fatalf("pending reminders after reschedule = %d, want 1", n)
	}

	// clearing the due date nulls the column and cancels the reminder
	if got, err := s.Update(context.Background(), 1, tk.ID, UpdateInput{ClearDueDate: true}); err != nil {
		t.Fatalf("Update() error = %v", err)
	} else if got.DueDate != nil {
		t.Fatalf("DueDate = %v after clear, want nil", got.DueDate)
	}
	if got := reload(t, s, tk.ID); got.DueDate != nil {
		t.Fatalf("stored DueDate = %v after clear, want nil", got.DueDate)
	}
	if n := pendingReminders(t, s, tk.ID); n != 0 {
		t.Fatalf("pending reminders after clear = %d, want 0", n)
	}

	// restore a due date so delete has a reminder to clean up
	if _, err := s.Update(context.Background(), 1, tk.ID, UpdateInput{DueDate: &newDue}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if n := pendingReminders(t, s, tk.ID); n != 1 {
		t.Fatalf("pending reminders after restore = %d, want 1", n)
	}

	// deleting the task cleans up its pending reminder
	if err := s.Delete(context.Background(), 1, tk.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n := pendingReminders(t, s, tk.ID); n != 0 {
		t.Fatalf("pending reminders after delete = %d, want 0", n)
	}
}
