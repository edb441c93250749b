package service

import (
	"errors"
	"fmt"
	"math"

	"speaking_backend/internal/model"
	"speaking_backend/internal/util"
	"speaking_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CompleteAttempt 结束尝试，之后的自动提交会开启新的尝试
func (s *SpeakingService) CompleteAttempt(attemptID, userID uint) (*model.ExamAttempt, error) {
	if _, err := s.checkAttempt(attemptID, userID, false); err != nil {
		return nil, err
	}
	if err := s.Attempts.Complete(attemptID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrAttemptCompleted
		}
		return nil, fmt.Errorf("complete attempt %d: %w", attemptID, err)
	}
	logger.Log.Info("Exam attempt completed", zap.Uint("attempt_id", attemptID), zap.Uint("user_id", userID))
	return s.Attempts.FindByID(attemptID)
}

type AnswerSummary struct {
	QuestionID     uint    `json:"questionId"`
	PartCode       string  `json:"partCode"`
	OverallScore   float64 `json:"overallScore"`
	RawBand        int     `json:"rawBand"`
	MaxBand        int     `json:"maxBand"`
	QuestionWeight int     `json:"questionWeight"`
	EarnedScore    float64 `json:"earnedScore"`
	SpeechDegraded bool    `json:"speechDegraded"`
	NLPFallback    bool    `json:"nlpFallback"`
}

type AttemptSummary struct {
	AttemptID      uint                `json:"attemptId"`
	Status         model.AttemptStatus `json:"status"`
	Answered       int                 `json:"answered"`
	AverageOverall float64             `json:"averageOverall"`
	TotalEarned    float64             `json:"totalEarned"`
	TotalPossible  float64             `json:"totalPossible"`
	Answers        []AnswerSummary     `json:"answers"`
}

// GetAttemptSummary 汇总每道已答题的分档与得分
func (s *SpeakingService) GetAttemptSummary(attemptID, userID uint) (*AttemptSummary, error) {
	attempt, err := s.checkAttempt(attemptID, userID, true)
	if err != nil {
		return nil, err
	}

	answers, err := s.Answers.ListByAttempt(attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	ids := make([]uint, 0, len(answers))
	for _, a := range answers {
		ids = append(ids, a.QuestionID)
	}
	questions, err := s.Questions.FindByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	summary := &AttemptSummary{
		AttemptID: attempt.ID,
		Status:    attempt.Status,
		Answers:   make([]AnswerSummary, 0, len(answers)),
	}
	var overallSum float64
	for _, a := range answers {
		weight := 0
		if q, ok := questions[a.QuestionID]; ok {
			weight = q.ScoreWeight
		}
		item := AnswerSummary{
			QuestionID:     a.QuestionID,
			PartCode:       a.PartCode,
			OverallScore:   a.OverallScore,
			RawBand:        ToRawBand(a.OverallScore, a.PartCode),
			MaxBand:        MaxRawBand(a.PartCode),
			QuestionWeight: weight,
			EarnedScore:    EarnedScore(a.OverallScore, a.PartCode, weight),
			SpeechDegraded: a.SpeechDegraded,
			NLPFallback:    a.NLPFallback,
		}
		summary.Answers = append(summary.Answers, item)
		summary.TotalEarned += item.EarnedScore
		summary.TotalPossible += float64(weight)
		overallSum += a.OverallScore
	}

	summary.Answered = len(answers)
	if summary.Answered > 0 {
		summary.AverageOverall = round1(overallSum / float64(summary.Answered))
	}
	summary.TotalEarned = math.Round(summary.TotalEarned*100) / 100
	return summary, nil
}

// RescoreDrift 存储的总分与按当前权重重算结果不一致的记录
type RescoreDrift struct {
	AnswerID   uint    `json:"answerId"`
	AttemptID  uint    `json:"attemptId"`
	QuestionID uint    `json:"questionId"`
	PartCode   string  `json:"partCode"`
	Stored     float64 `json:"stored"`
	Recomputed float64 `json:"recomputed"`
}

type RescoreReport struct {
	Checked int            `json:"checked"`
	Drifted []RescoreDrift `json:"drifted"`
}

// 聚合结果保留一位小数，小于半个刻度的差异视为一致
const rescoreTolerance = 0.05

// Rescore 以当前权重重算已存储答案的总分并报告偏差，只读，不修改任何记录。
// attemptID 为 0 时检查全部答案。
func (s *SpeakingService) Rescore(attemptID uint) (*RescoreReport, error) {
	report := &RescoreReport{Drifted: []RescoreDrift{}}
	err := s.Answers.Each(attemptID, func(a model.SpeakingAnswer) error {
		report.Checked++
		recomputed := Aggregate(s.Weights.WeightsFor(a.PartCode), DimensionScoresOf(&a))
		if math.Abs(recomputed-a.OverallScore) > rescoreTolerance {
			report.Drifted = append(report.Drifted, RescoreDrift{
				AnswerID:   a.ID,
				AttemptID:  a.AttemptID,
				QuestionID: a.QuestionID,
				PartCode:   a.PartCode,
				Stored:     a.OverallScore,
				Recomputed: recomputed,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(report.Drifted) > 0 {
		logger.Log.Warn("Stored speaking scores drifted from current weights",
			zap.Int("checked", report.Checked),
			zap.Int("drifted", len(report.Drifted)))
	}
	return report, nil
}
