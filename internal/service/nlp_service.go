package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"speaking_backend/internal/config"
	"speaking_backend/pkg/logger"
	"speaking_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// NlpRequest 发送给语言评分服务的内容
type NlpRequest struct {
	Transcript   string `json:"transcript"`
	SampleAnswer string `json:"sample_answer"`
	Question     string `json:"question,omitempty"`
	PartCode     string `json:"part_code,omitempty"`
}

type NlpScores struct {
	Grammar    float64 `json:"grammar_score"`
	Vocabulary float64 `json:"vocabulary_score"`
	Content    float64 `json:"content_score"`
	// Fallback 为 true 表示分数来自本地启发式规则
	Fallback bool `json:"-"`
}

// NlpBackend 远端评分实现：HTTP 服务或 LLM
type NlpBackend interface {
	Score(ctx context.Context, req NlpRequest) (NlpScores, error)
}

// NlpStatusError 评分服务返回了非 2xx
type NlpStatusError struct {
	StatusCode int
	Body       string
}

func (e *NlpStatusError) Error() string {
	return fmt.Sprintf("nlp service error (status %d): %s", e.StatusCode, e.Body)
}

type HTTPNlpBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPNlpBackend(baseURL string, client *http.Client) *HTTPNlpBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPNlpBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *HTTPNlpBackend) Score(ctx context.Context, in NlpRequest) (NlpScores, error) {
	if b.baseURL == "" {
		return NlpScores{}, errors.New("nlp service url is not configured")
	}

	jsonData, err := json.Marshal(in)
	if err != nil {
		return NlpScores{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/score_nlp", bytes.NewBuffer(jsonData))
	if err != nil {
		return NlpScores{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return NlpScores{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return NlpScores{}, &NlpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out NlpScores
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return NlpScores{}, fmt.Errorf("decode nlp response: %w", err)
	}
	return out, nil
}

// NlpScoringClient 语言评分客户端，远端失败时回退到启发式评分，从不返回错误
type NlpScoringClient struct {
	backend NlpBackend
	timeout time.Duration

	mu       sync.RWMutex
	fallback config.NLPFallback
}

func NewNlpScoringClient(backend NlpBackend, cfg config.NLPConfig) *NlpScoringClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NlpScoringClient{
		backend:  backend,
		timeout:  timeout,
		fallback: cfg.Fallback,
	}
}

// SetFallback 配置热更新
func (c *NlpScoringClient) SetFallback(fb config.NLPFallback) {
	c.mu.Lock()
	c.fallback = fb
	c.mu.Unlock()
}

func (c *NlpScoringClient) fallbackConfig() config.NLPFallback {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

func (c *NlpScoringClient) Score(ctx context.Context, req NlpRequest) NlpScores {
	defer monitoring.ObserveStage("nlp", time.Now())

	if c.backend == nil {
		return c.degrade(req, "not_configured", errors.New("no nlp backend"))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	scores, err := c.backend.Score(callCtx, req)
	if err != nil {
		return c.degrade(req, fallbackReason(err), err)
	}

	scores.Grammar = clampScore(scores.Grammar)
	scores.Vocabulary = clampScore(scores.Vocabulary)
	scores.Content = clampScore(scores.Content)
	scores.Fallback = false
	return scores
}

func (c *NlpScoringClient) degrade(req NlpRequest, reason string, err error) NlpScores {
	monitoring.NLPFallbacks.WithLabelValues(reason).Inc()
	logger.Log.Warn("NLP scoring unavailable, using heuristic scores",
		zap.String("reason", reason),
		zap.String("part_code", req.PartCode),
		zap.Error(err))
	return HeuristicScores(req.Transcript, req.SampleAnswer, c.fallbackConfig())
}

func fallbackReason(err error) string {
	var statusErr *NlpStatusError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &netErr):
		return "connection"
	default:
		return "error"
	}
}

// HeuristicScores 按词数分档的本地评分
func HeuristicScores(transcript, reference string, fb config.NLPFallback) NlpScores {
	words := WordCount(transcript)
	if words == 0 {
		return NlpScores{Grammar: fb.EmptyScore, Vocabulary: fb.EmptyScore, Content: fb.EmptyScore, Fallback: true}
	}

	tier := fb.ShortScore
	switch {
	case words >= fb.LongWords:
		tier = fb.LongScore
	case words >= fb.MediumWords:
		tier = fb.MediumScore
	}

	content := tier
	if refWords := WordCount(reference); refWords > 0 {
		ratio := float64(words) / float64(refWords)
		content = math.Min(fb.ContentCap, ratio*fb.ContentCap)
	}

	return NlpScores{
		Grammar:    tier,
		Vocabulary: tier,
		Content:    math.Round(content*10) / 10,
		Fallback:   true,
	}
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
