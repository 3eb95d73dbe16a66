package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEvaluator grades free-text answers through an OpenAI-compatible
// chat-completion API.
type OpenAIEvaluator struct {
	api   *openai.Client
	model string
}

// NewOpenAIEvaluator creates an evaluator. baseURL may be empty for the
// public API or point at a self-hosted compatible endpoint.
func NewOpenAIEvaluator(baseURL, apiKey, modelName string) *OpenAIEvaluator {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIEvaluator{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// gradePayload is the JSON document the model is instructed to return.
type gradePayload struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Evaluate sends one answer for grading. The returned score is clamped to
// [0, req.MaxScore] so a misbehaving model can never award out-of-range
// marks.
func (e *OpenAIEvaluator) Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResponse, error) {
	resp, err := e.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildGradingSystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.StudentAnswer},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("text evaluation API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("text evaluation returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("text evaluation response", "raw", raw)

	var payload gradePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parse evaluation response: %w (raw: %s)", err, raw)
	}

	score := payload.Score
	if score < 0 {
		score = 0
	}
	if score > req.MaxScore {
		score = req.MaxScore
	}

	return &EvaluationResponse{
		Score:    score,
		Feedback: payload.Feedback,
		Model:    e.model,
	}, nil
}

func buildGradingSystemPrompt(req EvaluationRequest) string {
	var b strings.Builder
	b.WriteString("You are grading one exam answer. ")
	b.WriteString("Compare the student's answer against the model answer and award a score.\n\n")
	if req.QuestionText != "" {
		fmt.Fprintf(&b, "Question:\n%s\n\n", req.QuestionText)
	}
	fmt.Fprintf(&b, "Model answer:\n%s\n\n", req.ModelAnswer)
	fmt.Fprintf(&b, "Maximum score: %g. Partial credit is allowed.\n\n", req.MaxScore)
	b.WriteString("Respond with a JSON object: ")
	b.WriteString(`{"score": <number between 0 and the maximum>, "feedback": "<one or two sentences for the student>"}`)
	return b.String()
}
