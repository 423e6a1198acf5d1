package jobs

import (
	"context"
	"log"
	"math"
	"time"

	"gorm.io/gorm"
)

// Worker polls for due reminder jobs and dispatches them.
type Worker struct {
	ID   string
	Repo *Repo
	DB   *gorm.DB
}

// taskRow is a narrow read of the tasks table; declared locally so the jobs
// package stays independent of the task package.
type taskRow struct {
	ID        uint64     `gorm:"column:id"`
	AuthorID  uint64     `gorm:"column:author_id"`
	Title     string     `gorm:"column:title"`
	Completed bool       `gorm:"column:completed"`
	DueDate   *time.Time `gorm:"column:due_date"`
}

func (taskRow) TableName() string { return "tasks" }

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(800 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.Repo.Claim(w.ID)
			if err != nil {
				log.Printf("worker claim error: %v\n", err)
				continue
			}
			if job == nil {
				continue
			}
			w.handle(job)
		}
	}
}

func (w *Worker) handle(job *Job) {
	switch job.Type {
	case TypeDueReminder:
		w.handleDueReminder(job)
	default:
		_ = w.Repo.MarkFailed(job.ID, "unknown job type")
	}
}

func (w *Worker) handleDueReminder(job *Job) {
	var t taskRow
	if err := w.DB.Where("id=? AND author_id=?", job.TaskID, job.UserID).First(&t).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			// task deleted since the job was enqueued
			_ = w.Repo.MarkDone(job.ID)
			return
		}
		w.retry(job, "db read error")
		return
	}

	if t.Completed || t.DueDate == nil {
		_ = w.Repo.MarkDone(job.ID)
		return
	}

	log.Printf("[DUE] user=%d task=%d title=%q\n", job.UserID, t.ID, t.Title)
	_ = w.Repo.MarkDone(job.ID)
}

func (w *Worker) retry(job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		_ = w.Repo.MarkFailed(job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := time.Now().Add(time.Duration(sec) * time.Second)

	_ = w.Repo.RetryLater(job.ID, attempts, next, errMsg)
}
