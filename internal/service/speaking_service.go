package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"speaking_backend/internal/model"
	"speaking_backend/internal/repository"
	"speaking_backend/internal/util"
	"speaking_backend/pkg/logger"
	"speaking_backend/pkg/monitoring"
	"speaking_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ErrorKind 提交失败的分类，控制器据此映射 HTTP 状态码
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindForbidden        ErrorKind = "forbidden"
	ErrorKindAlreadyCompleted ErrorKind = "already_completed"
	ErrorKindInProgress       ErrorKind = "in_progress"
	ErrorKindInvalid          ErrorKind = "invalid_request"
	ErrorKindInternal         ErrorKind = "internal"
)

// ClassifyError 将服务层错误归类
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, util.ErrAttemptNotFound), errors.Is(err, util.ErrQuestionNotFound):
		return ErrorKindNotFound
	case errors.Is(err, util.ErrAttemptForbidden):
		return ErrorKindForbidden
	case errors.Is(err, util.ErrAttemptCompleted):
		return ErrorKindAlreadyCompleted
	case errors.Is(err, util.ErrSubmissionInProgress):
		return ErrorKindInProgress
	case errors.Is(err, util.ErrEmptyAudio), errors.Is(err, util.ErrAudioTooLarge),
		errors.Is(err, util.ErrAudioTooLong), errors.Is(err, util.ErrUnsupportedAudio),
		errors.Is(err, util.ErrForeignAudioURL):
		return ErrorKindInvalid
	default:
		return ErrorKindInternal
	}
}

// 协作方接口，便于替换与测试
type AudioStorer interface {
	Store(ctx context.Context, upload AudioUpload, owner string) (*AudioAsset, error)
	OwnsURL(raw string) bool
}

type SpeechAnalyzer interface {
	Analyze(ctx context.Context, audioURL, referenceText, languageHint string) SpeechAnalysisResult
	Transcribe(ctx context.Context, audioURL, languageHint string) (string, error)
}

type NlpScorer interface {
	Score(ctx context.Context, req NlpRequest) NlpScores
}

type SubmitRequest struct {
	AttemptID  uint
	QuestionID uint
	UserID     uint
	Language   string
	Audio      AudioUpload
}

// ScoringResult 单题评分结果
type ScoringResult struct {
	AnswerID   uint   `json:"answerId"`
	QuestionID uint   `json:"questionId"`
	PartCode   string `json:"partCode"`
	Transcript string `json:"transcript"`
	AudioURL   string `json:"audioUrl"`

	PronunciationScore float64 `json:"pronunciationScore"`
	AccuracyScore      float64 `json:"accuracyScore"`
	FluencyScore       float64 `json:"fluencyScore"`
	CompletenessScore  float64 `json:"completenessScore"`
	GrammarScore       float64 `json:"grammarScore"`
	VocabularyScore    float64 `json:"vocabularyScore"`
	ContentScore       float64 `json:"contentScore"`
	OverallScore       float64 `json:"overallScore"`
	RawBand            int     `json:"rawBand"`
	MaxBand            int     `json:"maxBand"`

	SpeechDegraded bool      `json:"speechDegraded"`
	NLPFallback    bool      `json:"nlpFallback"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

func newScoringResult(a *model.SpeakingAnswer) *ScoringResult {
	return &ScoringResult{
		AnswerID:           a.ID,
		QuestionID:         a.QuestionID,
		PartCode:           a.PartCode,
		Transcript:         a.Transcript,
		AudioURL:           a.AudioURL,
		PronunciationScore: a.PronunciationScore,
		AccuracyScore:      a.AccuracyScore,
		FluencyScore:       a.FluencyScore,
		CompletenessScore:  a.CompletenessScore,
		GrammarScore:       a.GrammarScore,
		VocabularyScore:    a.VocabularyScore,
		ContentScore:       a.ContentScore,
		OverallScore:       a.OverallScore,
		RawBand:            ToRawBand(a.OverallScore, a.PartCode),
		MaxBand:            MaxRawBand(a.PartCode),
		SpeechDegraded:     a.SpeechDegraded,
		NLPFallback:        a.NLPFallback,
		SubmittedAt:        a.SubmittedAt,
	}
}

type SubmitResult struct {
	Success      bool           `json:"success"`
	IsDuplicate  bool           `json:"isDuplicate"`
	AttemptID    uint           `json:"attemptId"`
	Result       *ScoringResult `json:"result,omitempty"`
	ErrorKind    ErrorKind      `json:"errorKind,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// scoringDetail 写入 ScoringDetail 列的评分快照
type scoringDetail struct {
	Weights        ScoringWeights `json:"weights"`
	SpeechOutcome  SpeechOutcome  `json:"speechOutcome"`
	SpeechAttempts int            `json:"speechAttempts"`
	SpeechError    string         `json:"speechError,omitempty"`
	NoSpeech       bool           `json:"noSpeech,omitempty"`
	NLPFallback    bool           `json:"nlpFallback"`
}

// SpeakingService 口语提交协调：校验 → 幂等检查 → 上传 → 识别 → NLP → 聚合 → 持久化
type SpeakingService struct {
	Attempts  *repository.ExamAttemptRepository
	Questions *repository.QuestionRepository
	Answers   *repository.SpeakingAnswerRepository

	Audio   AudioStorer
	Speech  SpeechAnalyzer
	NLP     NlpScorer
	Weights *ScoringWeightService
	Lock    SubmissionLock

	// LockWait 锁被其他实例持有时等待其结果的时长，LockPollInterval 为轮询间隔
	LockWait         time.Duration
	LockPollInterval time.Duration

	inflight singleflight.Group
}

func NewSpeakingService(
	attempts *repository.ExamAttemptRepository,
	questions *repository.QuestionRepository,
	answers *repository.SpeakingAnswerRepository,
	audio AudioStorer,
	speech SpeechAnalyzer,
	nlp NlpScorer,
	weights *ScoringWeightService,
	lock SubmissionLock,
) *SpeakingService {
	if lock == nil {
		lock = NoopSubmissionLock{}
	}
	return &SpeakingService{
		Attempts:  attempts,
		Questions: questions,
		Answers:   answers,
		Audio:     audio,
		Speech:    speech,
		NLP:       nlp,
		Weights:   weights,
		Lock:      lock,

		LockWait:         2 * time.Minute,
		LockPollInterval: 250 * time.Millisecond,
	}
}

// checkAttempt 返回尝试记录；completed 为 true 时不视为错误（摘要查询需要）
func (s *SpeakingService) checkAttempt(attemptID, userID uint, allowCompleted bool) (*model.ExamAttempt, error) {
	attempt, err := s.Attempts.FindByID(attemptID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt %d: %w", attemptID, err)
	}
	if attempt.UserID != userID {
		return nil, util.ErrAttemptForbidden
	}
	if attempt.IsCompleted() && !allowCompleted {
		return nil, util.ErrAttemptCompleted
	}
	return attempt, nil
}

// ValidateAttempt 校验尝试是否可以继续作答
func (s *SpeakingService) ValidateAttempt(attemptID, userID uint) (ErrorKind, error) {
	_, err := s.checkAttempt(attemptID, userID, false)
	return ClassifyError(err), err
}

func failure(attemptID uint, err error) SubmitResult {
	return SubmitResult{
		Success:      false,
		AttemptID:    attemptID,
		ErrorKind:    ClassifyError(err),
		ErrorMessage: err.Error(),
	}
}

// SubmitAnswer 提交一道口语题。任何错误都转换为 Success=false 的结果，不向外抛出。
func (s *SpeakingService) SubmitAnswer(ctx context.Context, req SubmitRequest) (res SubmitResult) {
	ctx, span := tracing.Tracer.Start(ctx, "speaking.submit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("attempt.id", int(req.AttemptID)),
		attribute.Int("question.id", int(req.QuestionID)),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Speaking submission panicked",
				zap.Uint("attempt_id", req.AttemptID),
				zap.Uint("question_id", req.QuestionID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = failure(req.AttemptID, fmt.Errorf("internal error: %v", r))
		}
		monitoring.SpeakingSubmissions.WithLabelValues(submissionOutcome(res)).Inc()
	}()

	attempt, err := s.checkAttempt(req.AttemptID, req.UserID, false)
	if err != nil {
		return s.reject(req, err)
	}

	if existing, err := s.Answers.FindByAttemptAndQuestion(attempt.ID, req.QuestionID); err != nil {
		return s.reject(req, fmt.Errorf("check existing answer: %w", err))
	} else if existing != nil {
		logger.Log.Info("Duplicate speaking submission",
			zap.Uint("attempt_id", attempt.ID), zap.Uint("question_id", req.QuestionID))
		return SubmitResult{Success: true, IsDuplicate: true, AttemptID: attempt.ID, Result: newScoringResult(existing)}
	}

	// 同进程内相同 (attempt, question) 的并发提交只执行一次
	leader := false
	key := fmt.Sprintf("%d:%d", attempt.ID, req.QuestionID)
	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		leader = true
		// 已开始的评分不随调用方断开而中止，各阶段仍有各自的超时
		return s.scoreAndPersist(context.WithoutCancel(ctx), attempt, req)
	})
	if err != nil {
		return s.reject(req, err)
	}

	out := v.(*persistOutcome)
	return SubmitResult{
		Success:     true,
		IsDuplicate: !leader || !out.created,
		AttemptID:   attempt.ID,
		Result:      newScoringResult(out.answer),
	}
}

// SubmitAnswerWithAutoAttempt 未指定尝试时，为用户在题目所属考试下查找或创建进行中的尝试
func (s *SpeakingService) SubmitAnswerWithAutoAttempt(ctx context.Context, req SubmitRequest) SubmitResult {
	if req.AttemptID == 0 {
		question, err := s.Questions.FindByID(req.QuestionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.reject(req, util.ErrQuestionNotFound)
		}
		if err != nil {
			return s.reject(req, fmt.Errorf("load question %d: %w", req.QuestionID, err))
		}

		attempt, created, err := s.Attempts.FindOrCreateOpen(req.UserID, question.ExamID)
		if err != nil {
			return s.reject(req, fmt.Errorf("open attempt: %w", err))
		}
		if created {
			logger.Log.Info("Started exam attempt",
				zap.Uint("attempt_id", attempt.ID),
				zap.Uint("user_id", req.UserID),
				zap.Uint("exam_id", question.ExamID))
		}
		req.AttemptID = attempt.ID
	}
	return s.SubmitAnswer(ctx, req)
}

func (s *SpeakingService) reject(req SubmitRequest, err error) SubmitResult {
	res := failure(req.AttemptID, err)
	fields := []zap.Field{
		zap.Uint("attempt_id", req.AttemptID),
		zap.Uint("question_id", req.QuestionID),
		zap.Uint("user_id", req.UserID),
		zap.String("kind", string(res.ErrorKind)),
		zap.Error(err),
	}
	if res.ErrorKind == ErrorKindInternal {
		logger.Log.Error("Speaking submission failed", fields...)
	} else {
		logger.Log.Info("Speaking submission rejected", fields...)
	}
	return res
}

func submissionOutcome(res SubmitResult) string {
	switch {
	case res.Success && res.IsDuplicate:
		return "duplicate"
	case res.Success:
		return "scored"
	case res.ErrorKind == ErrorKindInternal:
		return "failed"
	default:
		return "rejected"
	}
}

// acquireOrAwait 获取提交锁。锁被其他实例持有时轮询其写入的答案，在 LockWait 内出现则直接返回；
// 对方未写入就释放了锁时由本实例接手。超出等待时间返回 ErrSubmissionInProgress。
func (s *SpeakingService) acquireOrAwait(ctx context.Context, attemptID, questionID uint) (func(), *model.SpeakingAnswer, error) {
	deadline := time.Now().Add(s.LockWait)
	for {
		release, err := s.Lock.Acquire(ctx, attemptID, questionID)
		if err == nil {
			return release, nil, nil
		}
		if !errors.Is(err, util.ErrSubmissionInProgress) {
			return nil, nil, err
		}

		existing, findErr := s.Answers.FindByAttemptAndQuestion(attemptID, questionID)
		if findErr != nil {
			return nil, nil, fmt.Errorf("check existing answer: %w", findErr)
		}
		if existing != nil {
			logger.Log.Info("Submission completed by another instance",
				zap.Uint("attempt_id", attemptID), zap.Uint("question_id", questionID))
			return nil, existing, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil, err
		}

		t := time.NewTimer(s.LockPollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil, ctx.Err()
		case <-t.C:
		}
	}
}

type persistOutcome struct {
	answer  *model.SpeakingAnswer
	created bool
}

func (s *SpeakingService) scoreAndPersist(ctx context.Context, attempt *model.ExamAttempt, req SubmitRequest) (*persistOutcome, error) {
	release, existing, err := s.acquireOrAwait(ctx, attempt.ID, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &persistOutcome{answer: existing}, nil
	}
	defer release()

	// 其他实例可能在加锁前刚完成
	if existing, err := s.Answers.FindByAttemptAndQuestion(attempt.ID, req.QuestionID); err != nil {
		return nil, fmt.Errorf("check existing answer: %w", err)
	} else if existing != nil {
		return &persistOutcome{answer: existing}, nil
	}

	question, err := s.Questions.FindByID(req.QuestionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrQuestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load question %d: %w", req.QuestionID, err)
	}

	asset, err := s.Audio.Store(ctx, req.Audio, fmt.Sprintf("attempt-%d", attempt.ID))
	if err != nil {
		return nil, fmt.Errorf("store audio: %w", err)
	}

	speech := s.Speech.Analyze(ctx, asset.URL, question.SampleAnswer, req.Language)
	if !speech.HasSpeech() {
		logger.Log.Warn("No usable speech detected",
			zap.Uint("attempt_id", attempt.ID),
			zap.Uint("question_id", question.ID),
			zap.String("part_code", question.PartCode),
			zap.Int("attempt", speech.Attempts),
			zap.Error(speech.Err))
	}

	nlp := s.NLP.Score(ctx, NlpRequest{
		Transcript:   speech.Transcript,
		SampleAnswer: question.SampleAnswer,
		Question:     question.Prompt,
		PartCode:     question.PartCode,
	})

	weights := s.Weights.WeightsFor(question.PartCode)
	dims := DimensionScores{
		Pronunciation: speech.Pronunciation,
		Accuracy:      speech.Accuracy,
		Fluency:       speech.Fluency,
		Grammar:       nlp.Grammar,
		Vocabulary:    nlp.Vocabulary,
		Content:       nlp.Content,
	}
	overall := Aggregate(weights, dims)

	detail := scoringDetail{
		Weights:        weights,
		SpeechOutcome:  speech.Outcome,
		SpeechAttempts: speech.Attempts,
		NoSpeech:       !speech.HasSpeech(),
		NLPFallback:    nlp.Fallback,
	}
	if speech.Err != nil {
		detail.SpeechError = speech.Err.Error()
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode scoring detail: %w", err)
	}

	answer := &model.SpeakingAnswer{
		AttemptID:          attempt.ID,
		QuestionID:         question.ID,
		PartCode:           question.PartCode,
		Transcript:         speech.Transcript,
		AudioURL:           asset.URL,
		AudioKey:           asset.Key,
		PronunciationScore: dims.Pronunciation,
		AccuracyScore:      dims.Accuracy,
		FluencyScore:       dims.Fluency,
		CompletenessScore:  speech.Completeness,
		GrammarScore:       dims.Grammar,
		VocabularyScore:    dims.Vocabulary,
		ContentScore:       dims.Content,
		OverallScore:       overall,
		SpeechDegraded:     speech.Outcome == OutcomeDegraded,
		NLPFallback:        nlp.Fallback,
		ScoringDetail:      detailJSON,
		SubmittedAt:        time.Now(),
	}

	saved, created, err := s.Answers.CreateIfAbsent(answer)
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	if !created {
		logger.Log.Warn("Lost speaking answer insert race, returning stored record",
			zap.Uint("attempt_id", attempt.ID),
			zap.Uint("question_id", question.ID),
			zap.Uint("answer_id", saved.ID))
	} else {
		logger.WithContext(ctx).Info("Speaking answer scored",
			zap.Uint("attempt_id", attempt.ID),
			zap.Uint("question_id", question.ID),
			zap.String("part_code", question.PartCode),
			zap.Float64("overall", overall),
			zap.Bool("speech_degraded", answer.SpeechDegraded),
			zap.Bool("nlp_fallback", answer.NLPFallback))
	}
	return &persistOutcome{answer: saved, created: created}, nil
}

// RecognizeSpeech 仅转写，不评分
func (s *SpeakingService) RecognizeSpeech(ctx context.Context, audioURL, language string) (string, error) {
	if audioURL == "" {
		return "", errors.New("audio url is required")
	}
	// 只转写本服务存储的录音，避免借服务端访问任意地址
	if !s.Audio.OwnsURL(audioURL) {
		return "", util.ErrForeignAudioURL
	}
	return s.Speech.Transcribe(ctx, audioURL, language)
}
