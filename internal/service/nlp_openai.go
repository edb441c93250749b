package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const nlpSystemPrompt = `You are an examiner for a spoken English test. Score the candidate's transcript against the reference answer.
Return a JSON object with exactly these numeric fields, each between 0 and 100:
{"grammar_score": <number>, "vocabulary_score": <number>, "content_score": <number>}
grammar_score rates grammatical accuracy, vocabulary_score rates range and precision of word choice,
content_score rates how well the transcript covers the reference answer and the task.`

// OpenAINlpBackend 通过 OpenAI 兼容接口打分
type OpenAINlpBackend struct {
	api   *openai.Client
	model string
}

func NewOpenAINlpBackend(baseURL, apiKey, model string) *OpenAINlpBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAINlpBackend{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

func (b *OpenAINlpBackend) Score(ctx context.Context, in NlpRequest) (NlpScores, error) {
	var user strings.Builder
	if in.PartCode != "" {
		fmt.Fprintf(&user, "Task: %s\n", in.PartCode)
	}
	if in.Question != "" {
		fmt.Fprintf(&user, "Question: %s\n", in.Question)
	}
	fmt.Fprintf(&user, "Reference answer: %s\nTranscript: %s\n", in.SampleAnswer, in.Transcript)

	resp, err := b.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: nlpSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return NlpScores{}, &NlpStatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return NlpScores{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return NlpScores{}, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	var out NlpScores
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return NlpScores{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return out, nil
}
