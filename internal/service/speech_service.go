package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"speaking_backend/internal/config"
	"speaking_backend/pkg/logger"
	"speaking_backend/pkg/monitoring"
	"speaking_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type SpeechOutcome string

const (
	OutcomeOK       SpeechOutcome = "ok"
	OutcomeDegraded SpeechOutcome = "degraded"
)

type speechState int

const (
	stateIdle speechState = iota
	stateTranscribing
	stateAssessing
	stateDone
	stateDegraded
)

func (s speechState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateTranscribing:
		return "transcribing"
	case stateAssessing:
		return "assessing"
	case stateDone:
		return "done"
	case stateDegraded:
		return "degraded"
	}
	return "unknown"
}

// SpeechAnalysisResult 一次提交的语音分析结果。
// Degraded 时四项子分为配置的中性默认值，Err 记录降级原因。
type SpeechAnalysisResult struct {
	Outcome       SpeechOutcome
	Transcript    string
	Pronunciation float64
	Accuracy      float64
	Fluency       float64
	Completeness  float64
	Attempts      int
	Err           error
}

// HasSpeech 转写是否可用；重试耗尽后为 false，调用方按"未检测到有效语音"处理
func (r SpeechAnalysisResult) HasSpeech() bool {
	return IsUsableTranscript(r.Transcript)
}

// SleepFunc 可注入的等待函数，ctx 取消时提前返回
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SpeechService 两阶段语音识别编排：转写 → 以转写文本为对齐目标的发音评估
type SpeechService struct {
	recognizer SpeechRecognizer
	probe      AssetProbe
	sleep      SleepFunc

	mu  sync.RWMutex
	cfg config.SpeechConfig
}

func NewSpeechService(recognizer SpeechRecognizer, probe AssetProbe, cfg config.SpeechConfig) *SpeechService {
	return &SpeechService{
		recognizer: recognizer,
		probe:      probe,
		sleep:      sleepContext,
		cfg:        cfg,
	}
}

// WithSleep 替换等待函数（测试用）
func (s *SpeechService) WithSleep(fn SleepFunc) *SpeechService {
	s.sleep = fn
	return s
}

// UpdateConfig 热更新超时、重试与语言等参数
func (s *SpeechService) UpdateConfig(cfg config.SpeechConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *SpeechService) settings() config.SpeechConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.FallbackScore <= 0 {
		cfg.FallbackScore = 70
	}
	return cfg
}

func (s *SpeechService) Analyze(ctx context.Context, audioURL, referenceText, languageHint string) SpeechAnalysisResult {
	cfg := s.settings()
	language := languageHint
	if language == "" {
		language = cfg.Language
	}

	ctx, span := tracing.Tracer.Start(ctx, "speech.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("speech.language", language),
		attribute.Int("speech.reference_words", WordCount(referenceText)),
	)
	defer monitoring.ObserveStage("speech", time.Now())

	var result SpeechAnalysisResult
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		s.waitReady(ctx, audioURL, cfg)

		result = s.runTwoPass(ctx, audioURL, language, cfg)
		result.Attempts = attempt
		if result.HasSpeech() {
			break
		}

		logger.Log.Warn("No usable transcript from speech recognition",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.String("audio_url", audioURL),
			zap.Error(result.Err))

		if attempt == cfg.MaxAttempts {
			break
		}
		delay := cfg.RetryBaseDelay << (attempt - 1)
		if err := s.sleep(ctx, delay); err != nil {
			result.Err = err
			break
		}
	}

	monitoring.SpeechRecognitionAttempts.Observe(float64(result.Attempts))
	outcome := string(result.Outcome)
	if !result.HasSpeech() {
		outcome = "no_speech"
	}
	monitoring.SpeechOutcomes.WithLabelValues(outcome).Inc()

	span.SetAttributes(
		attribute.String("speech.outcome", outcome),
		attribute.Int("speech.attempts", result.Attempts),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		if !result.HasSpeech() {
			span.SetStatus(codes.Error, "no usable speech")
		}
	}
	return result
}

// Transcribe 只执行第一阶段转写
func (s *SpeechService) Transcribe(ctx context.Context, audioURL, languageHint string) (string, error) {
	cfg := s.settings()
	language := languageHint
	if language == "" {
		language = cfg.Language
	}
	s.waitReady(ctx, audioURL, cfg)
	return s.transcribe(ctx, audioURL, language, cfg)
}

func (s *SpeechService) runTwoPass(ctx context.Context, audioURL, language string, cfg config.SpeechConfig) SpeechAnalysisResult {
	var res SpeechAnalysisResult
	state := stateIdle

	for {
		switch state {
		case stateIdle:
			state = stateTranscribing

		case stateTranscribing:
			transcript, err := s.transcribe(ctx, audioURL, language, cfg)
			res.Transcript = transcript
			if err != nil {
				res.Err = err
			}
			if !IsUsableTranscript(transcript) {
				if res.Err == nil {
					res.Err = errors.New("empty transcript")
				}
				state = stateDegraded
				continue
			}
			state = stateAssessing

		case stateAssessing:
			scores, err := s.assess(ctx, audioURL, res.Transcript, language, cfg)
			if err != nil {
				res.Err = err
				logger.Log.Warn("Pronunciation assessment failed, using neutral scores",
					zap.String("audio_url", audioURL),
					zap.Float64("fallback_score", cfg.FallbackScore),
					zap.Error(err))
				state = stateDegraded
				continue
			}
			res.Pronunciation = clampScore(scores.Pronunciation)
			res.Accuracy = clampScore(scores.Accuracy)
			res.Fluency = clampScore(scores.Fluency)
			res.Completeness = clampScore(scores.Completeness)
			state = stateDone

		case stateDone:
			res.Outcome = OutcomeOK
			return res

		case stateDegraded:
			res.Outcome = OutcomeDegraded
			res.Pronunciation = cfg.FallbackScore
			res.Accuracy = cfg.FallbackScore
			res.Fluency = cfg.FallbackScore
			res.Completeness = cfg.FallbackScore
			return res
		}
	}
}

// transcribe 第一阶段：超时视为会话结束，保留已识别片段；其它错误返回空转写
func (s *SpeechService) transcribe(ctx context.Context, audioURL, language string, cfg config.SpeechConfig) (string, error) {
	if s.recognizer == nil {
		return "", errors.New("speech recognizer is not configured")
	}

	sessionCtx := ctx
	if cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(ctx, cfg.SessionTimeout)
		defer cancel()
	}

	var (
		mu       sync.Mutex
		segments []string
	)
	err := s.recognizer.Transcribe(sessionCtx, audioURL, language, func(text string) {
		mu.Lock()
		segments = append(segments, text)
		mu.Unlock()
	})

	mu.Lock()
	transcript := joinSegments(segments)
	mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Log.Info("Transcription session timed out, keeping recognized segments",
				zap.Int("segments", len(segments)))
			return transcript, nil
		}
		return "", err
	}
	return transcript, nil
}

func (s *SpeechService) assess(ctx context.Context, audioURL, transcript, language string, cfg config.SpeechConfig) (*PronunciationScores, error) {
	assessCtx := ctx
	if cfg.AssessTimeout > 0 {
		var cancel context.CancelFunc
		assessCtx, cancel = context.WithTimeout(ctx, cfg.AssessTimeout)
		defer cancel()
	}
	return s.recognizer.AssessPronunciation(assessCtx, audioURL, NormalizeReferenceText(transcript), language)
}

// waitReady 轮询音频资源直到可读；超出次数后照常继续
func (s *SpeechService) waitReady(ctx context.Context, audioURL string, cfg config.SpeechConfig) bool {
	if s.probe == nil || cfg.ReadinessAttempts <= 0 {
		return true
	}
	for i := 1; i <= cfg.ReadinessAttempts; i++ {
		ready, err := s.probe.Ready(ctx, audioURL)
		if ready {
			return true
		}
		logger.Log.Debug("Audio asset not ready",
			zap.String("audio_url", audioURL),
			zap.Int("poll", i),
			zap.Error(err))
		if i < cfg.ReadinessAttempts {
			if s.sleep(ctx, cfg.ReadinessInterval) != nil {
				return false
			}
		}
	}
	logger.Log.Warn("Audio asset still not ready, continuing", zap.String("audio_url", audioURL))
	return false
}
