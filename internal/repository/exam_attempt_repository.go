package repository

import (
	"errors"
	"time"

	"speaking_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExamAttemptRepository struct {
	DB *gorm.DB
}

func NewExamAttemptRepository(db *gorm.DB) *ExamAttemptRepository {
	return &ExamAttemptRepository{DB: db}
}

func (r *ExamAttemptRepository) Create(attempt *model.ExamAttempt) error {
	return r.DB.Create(attempt).Error
}

func (r *ExamAttemptRepository) FindByID(id uint) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindOrCreateOpen 查找或创建用户在该考试下唯一的进行中尝试。
// open_key 上的唯一索引兜底并发创建：插入冲突时读取另一方刚提交的记录。
func (r *ExamAttemptRepository) FindOrCreateOpen(userID, examID uint) (*model.ExamAttempt, bool, error) {
	key := model.OpenAttemptKey(userID, examID)
	var attempt model.ExamAttempt
	created := false

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("open_key = ?", key).First(&attempt).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		attempt = model.ExamAttempt{
			UserID:    userID,
			ExamID:    examID,
			Status:    model.AttemptInProgress,
			OpenKey:   &key,
			StartedAt: time.Now(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&attempt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			return nil
		}

		// lost the race; locking read sees the winner's committed row
		attempt = model.ExamAttempt{}
		return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("open_key = ?", key).
			First(&attempt).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &attempt, created, nil
}

// Complete 将尝试标记为已完成并释放 open_key
func (r *ExamAttemptRepository) Complete(id uint) error {
	now := time.Now()
	res := r.DB.Model(&model.ExamAttempt{}).
		Where("id = ? AND status = ?", id, model.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":   model.AttemptCompleted,
			"open_key": nil,
			"ended_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ExamAttemptRepository) CountOpen(userID, examID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.ExamAttempt{}).
		Where("user_id = ? AND exam_id = ? AND status = ?", userID, examID, model.AttemptInProgress).
		Count(&count).Error
	return count, err
}
