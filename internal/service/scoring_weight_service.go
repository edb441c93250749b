package service

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"speaking_backend/internal/config"
	"speaking_backend/internal/model"
	"speaking_backend/pkg/logger"

	"go.uber.org/zap"
)

// ContentGate 内容分低于阈值时对总分封顶（离题或未朗读）
type ContentGate struct {
	Threshold float64 `json:"threshold"`
	Cap       float64 `json:"cap"`
}

// ScoringWeights 六个维度的权重与缩放系数。权重之和不必为 1，聚合时再归一化。
type ScoringWeights struct {
	Pronunciation float64      `json:"pronunciation"`
	Accuracy      float64      `json:"accuracy"`
	Fluency       float64      `json:"fluency"`
	Grammar       float64      `json:"grammar"`
	Vocabulary    float64      `json:"vocabulary"`
	Content       float64      `json:"content"`
	ScaleFactor   float64      `json:"scaleFactor"`
	ContentGate   *ContentGate `json:"contentGate,omitempty"`
}

func (w ScoringWeights) TotalWeight() float64 {
	return nonNegative(w.Pronunciation) + nonNegative(w.Accuracy) + nonNegative(w.Fluency) +
		nonNegative(w.Grammar) + nonNegative(w.Vocabulary) + nonNegative(w.Content)
}

func (w ScoringWeights) Validate() error {
	for name, v := range map[string]float64{
		"pronunciation": w.Pronunciation,
		"accuracy":      w.Accuracy,
		"fluency":       w.Fluency,
		"grammar":       w.Grammar,
		"vocabulary":    w.Vocabulary,
		"content":       w.Content,
	} {
		if v < 0 {
			return fmt.Errorf("%s weight must be non-negative, got %v", name, v)
		}
	}
	if w.ScaleFactor < 0 {
		return fmt.Errorf("scale factor must be non-negative, got %v", w.ScaleFactor)
	}
	return nil
}

// DimensionScores 六个维度的原始分（0-100）
type DimensionScores struct {
	Pronunciation float64 `json:"pronunciation"`
	Accuracy      float64 `json:"accuracy"`
	Fluency       float64 `json:"fluency"`
	Grammar       float64 `json:"grammar"`
	Vocabulary    float64 `json:"vocabulary"`
	Content       float64 `json:"content"`
}

func DimensionScoresOf(a *model.SpeakingAnswer) DimensionScores {
	return DimensionScores{
		Pronunciation: a.PronunciationScore,
		Accuracy:      a.AccuracyScore,
		Fluency:       a.FluencyScore,
		Grammar:       a.GrammarScore,
		Vocabulary:    a.VocabularyScore,
		Content:       a.ContentScore,
	}
}

// 各部分固定的权重配置：朗读侧重发音与流利度，观点题侧重语法、词汇与内容
var partWeights = map[string]ScoringWeights{
	model.PartReadAloud: {
		Pronunciation: 0.50,
		Fluency:       0.25,
		Accuracy:      0.15,
		Grammar:       0.05,
		Vocabulary:    0.05,
		Content:       0.00,
		ScaleFactor:   1.0,
	},
	model.PartDescribePicture: {
		Grammar:       0.25,
		Vocabulary:    0.25,
		Content:       0.20,
		Fluency:       0.15,
		Pronunciation: 0.10,
		Accuracy:      0.05,
		ScaleFactor:   1.0,
	},
	model.PartRespondQuestions: {
		Content:       0.30,
		Fluency:       0.25,
		Grammar:       0.20,
		Vocabulary:    0.15,
		Pronunciation: 0.10,
		Accuracy:      0.00,
		ScaleFactor:   1.0,
	},
	model.PartRespondWithInfo: {
		Content:       0.30,
		Grammar:       0.25,
		Vocabulary:    0.20,
		Fluency:       0.15,
		Pronunciation: 0.10,
		Accuracy:      0.00,
		ScaleFactor:   1.0,
	},
	model.PartExpressOpinion: {
		Grammar:       0.30,
		Vocabulary:    0.25,
		Content:       0.20,
		Fluency:       0.15,
		Pronunciation: 0.10,
		Accuracy:      0.00,
		ScaleFactor:   1.67,
	},
}

var defaultWeights = ScoringWeights{
	Grammar:       0.25,
	Vocabulary:    0.20,
	Content:       0.20,
	Fluency:       0.20,
	Pronunciation: 0.10,
	Accuracy:      0.05,
	ScaleFactor:   1.0,
}

type ScoringWeightService struct {
	mu    sync.RWMutex
	gates map[string]ContentGate
}

func NewScoringWeightService(cfg config.ScoringConfig) *ScoringWeightService {
	s := &ScoringWeightService{}
	s.SetContentGates(cfg.ContentGates)
	return s
}

// SetContentGates 替换内容门槛配置（支持热更新）
func (s *ScoringWeightService) SetContentGates(gates map[string]config.ContentGateConfig) {
	m := make(map[string]ContentGate, len(gates))
	for part, g := range gates {
		m[strings.ToUpper(part)] = ContentGate{Threshold: g.Threshold, Cap: g.Cap}
	}
	s.mu.Lock()
	s.gates = m
	s.mu.Unlock()
}

// WeightsFor 返回该部分的权重，未知部分回退到均衡的默认配置
func (s *ScoringWeightService) WeightsFor(partCode string) ScoringWeights {
	code := strings.ToUpper(strings.TrimSpace(partCode))
	w, ok := partWeights[code]
	if !ok {
		logger.Log.Debug("unknown speaking part, using default weights", zap.String("part_code", partCode))
		w = defaultWeights
	}

	s.mu.RLock()
	if g, ok := s.gates[code]; ok {
		gate := g
		w.ContentGate = &gate
	}
	s.mu.RUnlock()

	if total := w.TotalWeight(); math.Abs(total-1) > 1e-6 {
		logger.Log.Warn("scoring weights do not sum to 1.0, using anyway",
			zap.String("part_code", partCode), zap.Float64("sum", total))
	}
	return w
}

// Aggregate 计算加权总分，是总分的唯一计算入口（评分与复核都调用这里）。
// 每个维度先保留一位小数，按权重求和后除以权重总和，再乘缩放系数并封顶 100。
func Aggregate(w ScoringWeights, s DimensionScores) float64 {
	total := round1(s.Pronunciation)*nonNegative(w.Pronunciation) +
		round1(s.Accuracy)*nonNegative(w.Accuracy) +
		round1(s.Fluency)*nonNegative(w.Fluency) +
		round1(s.Grammar)*nonNegative(w.Grammar) +
		round1(s.Vocabulary)*nonNegative(w.Vocabulary) +
		round1(s.Content)*nonNegative(w.Content)

	if totalWeight := w.TotalWeight(); totalWeight > 0 {
		total /= totalWeight
	}

	scale := w.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	total *= scale
	total = math.Max(0, math.Min(100, total))

	if g := w.ContentGate; g != nil && round1(s.Content) < g.Threshold && total > g.Cap {
		total = g.Cap
	}

	return round1(total)
}

// round1 保留一位小数；先在 0.1 单位上对齐到 1e-5 消除浮点误差（832.4999999 → 832.5 → 83.3）
func round1(v float64) float64 {
	tenths := math.Round(v*10*1e5) / 1e5
	return math.Round(tenths) / 10
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
