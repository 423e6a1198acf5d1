package task

import "time"

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is owned by exactly one user. AuthorID is set at creation and
// never reassigned.
type Task struct {
	ID        uint64     `gorm:"primaryKey" json:"id"`
	Title     string     `gorm:"not null" json:"title"`
	Content   string     `gorm:"type:text;not null;default:''" json:"content"`
	Completed bool       `gorm:"not null;default:false" json:"completed"`
	Priority  string     `gorm:"not null;default:'medium'" json:"priority"`
	DueDate   *time.Time `json:"dueDate"`
	AuthorID  uint64     `gorm:"index;not null" json:"authorId"`
	CreatedAt time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"index;not null" json:"updatedAt"`
}
