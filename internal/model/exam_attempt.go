package model

import (
	"fmt"
	"time"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// swagger:model ExamAttempt
type ExamAttempt struct {
	BaseModel

	UserID uint          `gorm:"index;not null" json:"userId"`
	ExamID uint          `gorm:"index;not null" json:"examId"`
	Status AttemptStatus `gorm:"type:varchar(20);index;default:in_progress" json:"status"`
	// OpenKey 仅在进行中时有值，唯一索引保证同一用户同一考试最多一个进行中的尝试
	OpenKey   *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}

func OpenAttemptKey(userID, examID uint) string {
	return fmt.Sprintf("%d:%d", userID, examID)
}

func (a *ExamAttempt) IsCompleted() bool {
	return a.Status == AttemptCompleted
}
