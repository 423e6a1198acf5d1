package task

import (
	"context"
	"errors"
	"time"

	"tms/internal/jobs"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("task not found")
var ErrForbidden = errors.New("not task owner")

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type Service struct {
	DB *gorm.DB
}

type CreateInput struct {
	Title     string
	Content   string
	Completed bool
	Priority  string
	DueDate   *time.Time
}

// UpdateInput carries a partial update; nil fields are left untouched.
// ClearDueDate nulls the due date column, since a nil DueDate only means
// "unchanged".
type UpdateInput struct {
	Title        *string
	Content      *string
	Completed    *bool
	Priority     *string
	DueDate      *time.Time
	ClearDueDate bool
}

func (in UpdateInput) changes() map[string]any {
	m := map[string]any{}
	if in.Title != nil {
		m["title"] = *in.Title
	}
	if in.Content != nil {
		m["content"] = *in.Content
	}
	if in.Completed != nil {
		m["completed"] = *in.Completed
	}
	if in.Priority != nil {
		m["priority"] = *in.Priority
	}
	if in.ClearDueDate {
		m["due_date"] = nil
	} else if in.DueDate != nil {
		m["due_date"] = *in.DueDate
	}
	return m
}

func (s *Service) Create(ctx context.Context, userID uint64, in CreateInput) (*Task, error) {
	t := Task{
		Title:     in.Title,
		Content:   in.Content,
		Completed: in.Completed,
		Priority:  in.Priority,
		DueDate:   in.DueDate,
		AuthorID:  userID,
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		// enqueue reminder using SAME tx
		if t.DueDate != nil && !t.Completed {
			return enqueueReminder(tx, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID loads the task irrespective of owner, then checks ownership, so
// a foreign task id is only ever distinguishable by 403 vs 404 after auth.
func (s *Service) GetByID(ctx context.Context, userID, id uint64) (*Task, error) {
	var t Task
	if err := s.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if t.AuthorID != userID {
		return nil, ErrForbidden
	}
	return &t, nil
}

// List returns one page of the caller's tasks, most recently updated first,
// plus the total count across all pages.
func (s *Service) List(ctx context.Context, userID uint64, page, limit int) ([]Task, int64, error) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var total int64
	if err := s.DB.WithContext(ctx).Model(&Task{}).
		Where("author_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Task
	err := s.DB.WithContext(ctx).
		Where("author_id = ?", userID).
		Order("updated_at desc").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (s *Service) Update(ctx context.Context, userID, id uint64, in UpdateInput) (*Task, error) {
	var t Task
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if t.AuthorID != userID {
			return ErrForbidden
		}

		changes := in.changes()
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&t).Updates(changes).Error; err != nil {
			return err
		}
		if in.ClearDueDate {
			t.DueDate = nil
		}

		// reminder bookkeeping
		if in.Completed != nil && *in.Completed {
			return cancelReminders(tx, []uint64{t.ID})
		}
		if in.ClearDueDate {
			return cancelReminders(tx, []uint64{t.ID})
		}
		if in.DueDate != nil {
			if err := cancelReminders(tx, []uint64{t.ID}); err != nil {
				return err
			}
			if !t.Completed {
				return enqueueReminder(tx, &t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uint64) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t Task
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if t.AuthorID != userID {
			return ErrForbidden
		}
		if err := cancelReminders(tx, []uint64{t.ID}); err != nil {
			return err
		}
		return tx.Delete(&t).Error
	})
}

// BulkUpdate applies one partial update to every named task inside a single
// transaction. Verification runs first over all ids: any missing task aborts
// with ErrNotFound, any task owned by another user aborts with ErrForbidden,
// and in either case nothing is written.
func (s *Service) BulkUpdate(ctx context.Context, userID uint64, ids []uint64, in UpdateInput) (int64, error) {
	changes := in.changes()
	if len(ids) == 0 || len(changes) == 0 {
		return 0, nil
	}

	// dedupe so a repeated id cannot skew the existence check
	seen := map[uint64]struct{}{}
	uniq := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}

	var updated int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var named []Task
		if err := tx.Where("id IN ?", uniq).Find(&named).Error; err != nil {
			return err
		}
		if len(named) != len(uniq) {
			return ErrNotFound
		}
		for _, t := range named {
			if t.AuthorID != userID {
				return ErrForbidden
			}
		}

		res := tx.Model(&Task{}).Where("id IN ?", uniq).Updates(changes)
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected

		if in.Completed != nil && *in.Completed {
			return cancelReminders(tx, uniq)
		}
		if in.ClearDueDate {
			return cancelReminders(tx, uniq)
		}
		if in.DueDate != nil {
			if err := cancelReminders(tx, uniq); err != nil {
				return err
			}
			for i := range named {
				t := named[i]
				if in.Completed != nil {
					t.Completed = *in.Completed
				}
				if t.Completed {
					continue
				}
				t.DueDate = in.DueDate
				if err := enqueueReminder(tx, &t); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func enqueueReminder(tx *gorm.DB, t *Task) error {
	j := jobs.Job{
		UserID: t.AuthorID,
		TaskID: t.ID,
		Type:   jobs.TypeDueReminder,
		RunAt:  *t.DueDate,
		Status: jobs.StatusPending,
	}
	return tx.Create(&j).Error
}

func cancelReminders(tx *gorm.DB, taskIDs []uint64) error {
	return tx.
		Where("task_id IN ? AND type = ? AND status = ?", taskIDs, jobs.TypeDueReminder, jobs.StatusPending).
		Delete(&jobs.Job{}).Error
}
