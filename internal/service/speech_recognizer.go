package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"speaking_backend/internal/config"

	"github.com/gorilla/websocket"
)

// PronunciationScores 发音评估四项子分
type PronunciationScores struct {
	Transcript    string  `json:"display_text"`
	Accuracy      float64 `json:"accuracy_score"`
	Fluency       float64 `json:"fluency_score"`
	Completeness  float64 `json:"completeness_score"`
	Pronunciation float64 `json:"pronunciation_score"`
}

// SpeechRecognizer 语音网关的两个能力：连续转写、发音评估
type SpeechRecognizer interface {
	// Transcribe 连续识别，每个识别出的片段回调一次；会话正常结束返回 nil
	Transcribe(ctx context.Context, audioURL, language string, onSegment func(string)) error
	AssessPronunciation(ctx context.Context, audioURL, referenceText, language string) (*PronunciationScores, error)
}

// AssetProbe 判断音频资源是否已可读取
type AssetProbe interface {
	Ready(ctx context.Context, audioURL string) (bool, error)
}

const subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// 网关流式事件
const (
	eventRecognized     = "recognized"
	eventSessionStopped = "session_stopped"
	eventCanceled       = "canceled"
)

type streamStart struct {
	Type     string `json:"type"`
	AudioURL string `json:"audio_url"`
	Language string `json:"language"`
}

type streamEvent struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

type assessRequest struct {
	AudioURL      string `json:"audio_url"`
	ReferenceText string `json:"reference_text"`
	Language      string `json:"language"`
	GradingSystem string `json:"grading_system"`
	Granularity   string `json:"granularity"`
}

type assessResponse struct {
	RecognitionStatus string `json:"recognition_status"`
	ErrorDetails      string `json:"error_details"`
	PronunciationScores
}

// GatewayRecognizer 语音网关客户端：websocket 连续转写 + REST 发音评估
type GatewayRecognizer struct {
	streamURL string
	assessURL string
	key       string
	region    string
	dialer    *websocket.Dialer
	client    *http.Client
}

func NewGatewayRecognizer(cfg config.SpeechConfig, client *http.Client) *GatewayRecognizer {
	if client == nil {
		client = &http.Client{}
	}
	return &GatewayRecognizer{
		streamURL: cfg.StreamURL,
		assessURL: cfg.AssessURL,
		key:       cfg.SubscriptionKey,
		region:    cfg.Region,
		dialer:    websocket.DefaultDialer,
		client:    client,
	}
}

func (g *GatewayRecognizer) headers() http.Header {
	h := http.Header{}
	if g.key != "" {
		h.Set(subscriptionKeyHeader, g.key)
	}
	if g.region != "" {
		h.Set("X-Speech-Region", g.region)
	}
	return h
}

func (g *GatewayRecognizer) Transcribe(ctx context.Context, audioURL, language string, onSegment func(string)) error {
	if g.streamURL == "" {
		return errors.New("speech stream url is not configured")
	}
	u, err := url.Parse(g.streamURL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := g.dialer.DialContext(ctx, u.String(), g.headers())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial speech gateway (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial speech gateway: %w", err)
	}
	defer conn.Close()

	// ctx 取消时关闭连接，解除 ReadJSON 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(streamStart{Type: "start", AudioURL: audioURL, Language: language}); err != nil {
		return fmt.Errorf("start recognition: %w", err)
	}

	for {
		var ev streamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read recognition event: %w", err)
		}

		switch ev.Type {
		case eventRecognized:
			if onSegment != nil && strings.TrimSpace(ev.Text) != "" {
				onSegment(ev.Text)
			}
		case eventSessionStopped:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case eventCanceled:
			if ev.Reason == "EndOfStream" {
				return nil
			}
			return fmt.Errorf("recognition canceled: %s %s", ev.Reason, ev.ErrorDetails)
		}
	}
}

func (g *GatewayRecognizer) AssessPronunciation(ctx context.Context, audioURL, referenceText, language string) (*PronunciationScores, error) {
	if g.assessURL == "" {
		return nil, errors.New("speech assess url is not configured")
	}

	jsonData, err := json.Marshal(assessRequest{
		AudioURL:      audioURL,
		ReferenceText: referenceText,
		Language:      language,
		GradingSystem: "HundredMark",
		Granularity:   "Word",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.assessURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header = g.headers()
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pronunciation assessment error (status %d): %s", resp.StatusCode, string(body))
	}

	var out assessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	if out.RecognitionStatus != "" && out.RecognitionStatus != "Success" {
		return nil, fmt.Errorf("pronunciation assessment failed: %s %s", out.RecognitionStatus, out.ErrorDetails)
	}
	return &out.PronunciationScores, nil
}

// HTTPAssetProbe 用 HEAD 请求探测音频是否已上传完成
type HTTPAssetProbe struct {
	client   *http.Client
	minBytes int64
}

func NewHTTPAssetProbe(client *http.Client, minBytes int64) *HTTPAssetProbe {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAssetProbe{client: client, minBytes: minBytes}
}

func (p *HTTPAssetProbe) Ready(ctx context.Context, audioURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, audioURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	return resp.ContentLength > p.minBytes, nil
}
