package model

// 口语题目分部编码
const (
	PartReadAloud        = "SPEAKING_PART_1"
	PartDescribePicture  = "SPEAKING_PART_2"
	PartRespondQuestions = "SPEAKING_PART_3"
	PartRespondWithInfo  = "SPEAKING_PART_4"
	PartExpressOpinion   = "SPEAKING_PART_5"
)

// swagger:model Question
type Question struct {
	BaseModel

	ExamID       uint   `gorm:"index;not null" json:"examId"`
	PartCode     string `gorm:"type:varchar(32);index" json:"partCode"`
	Prompt       string `gorm:"type:text" json:"prompt"`
	SampleAnswer string `gorm:"type:text" json:"sampleAnswer"` // 参考答案，用于 NLP 内容评分
	ScoreWeight  int    `gorm:"default:3" json:"scoreWeight"`
}

func (Question) TableName() string {
	return "speaking_questions"
}
