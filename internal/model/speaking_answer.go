package model

import (
	"time"

	"gorm.io/datatypes"
)

// SpeakingAnswer 每次尝试中每道口语题的评分记录，创建后不再修改
type SpeakingAnswer struct {
	BaseModel

	AttemptID  uint   `gorm:"uniqueIndex:idx_speaking_attempt_question;not null" json:"attemptId"`
	QuestionID uint   `gorm:"uniqueIndex:idx_speaking_attempt_question;not null" json:"questionId"`
	PartCode   string `gorm:"type:varchar(32)" json:"partCode"`
	Transcript string `gorm:"type:text" json:"transcript"`
	AudioURL   string `gorm:"type:varchar(512)" json:"audioUrl"`
	AudioKey   string `gorm:"type:varchar(255)" json:"audioKey"`

	PronunciationScore float64 `json:"pronunciationScore"`
	AccuracyScore      float64 `json:"accuracyScore"`
	FluencyScore       float64 `json:"fluencyScore"`
	CompletenessScore  float64 `json:"completenessScore"`
	GrammarScore       float64 `json:"grammarScore"`
	VocabularyScore    float64 `json:"vocabularyScore"`
	ContentScore       float64 `json:"contentScore"`
	OverallScore       float64 `json:"overallScore"`

	SpeechDegraded bool `gorm:"default:false" json:"speechDegraded"`
	NLPFallback    bool `gorm:"column:nlp_fallback;default:false" json:"nlpFallback"`
	// ScoringDetail 评分时使用的权重快照
	ScoringDetail datatypes.JSON `json:"scoringDetail,omitempty"`
	SubmittedAt   time.Time      `json:"submittedAt"`
}

func (SpeakingAnswer) TableName() string {
	return "speaking_answers"
}
