package repository

import (
	"errors"

	"speaking_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SpeakingAnswerRepository struct {
	DB *gorm.DB
}

func NewSpeakingAnswerRepository(db *gorm.DB) *SpeakingAnswerRepository {
	return &SpeakingAnswerRepository{DB: db}
}

// FindByAttemptAndQuestion 未找到时返回 (nil, nil)
func (r *SpeakingAnswerRepository) FindByAttemptAndQuestion(attemptID, questionID uint) (*model.SpeakingAnswer, error) {
	var a model.SpeakingAnswer
	err := r.DB.Where("attempt_id = ? AND question_id = ?", attemptID, questionID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateIfAbsent 插入答案；(attempt_id, question_id) 已存在时不覆盖，返回已有记录且 created=false
func (r *SpeakingAnswerRepository) CreateIfAbsent(answer *model.SpeakingAnswer) (*model.SpeakingAnswer, bool, error) {
	res := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(answer)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return answer, true, nil
	}

	existing, err := r.FindByAttemptAndQuestion(answer.AttemptID, answer.QuestionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("speaking answer insert ignored but no existing row found")
	}
	return existing, false, nil
}

func (r *SpeakingAnswerRepository) ListByAttempt(attemptID uint) ([]model.SpeakingAnswer, error) {
	var answers []model.SpeakingAnswer
	err := r.DB.Where("attempt_id = ?", attemptID).Order("question_id").Find(&answers).Error
	return answers, err
}

// Each 分批遍历答案，attemptID 为 0 时遍历全部
func (r *SpeakingAnswerRepository) Each(attemptID uint, fn func(model.SpeakingAnswer) error) error {
	q := r.DB.Model(&model.SpeakingAnswer{})
	if attemptID > 0 {
		q = q.Where("attempt_id = ?", attemptID)
	}
	var batch []model.SpeakingAnswer
	return q.FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, a := range batch {
			if err := fn(a); err != nil {
				return err
			}
		}
		return nil
	}).Error
}
