package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/noah-isme/sma-exam-api/internal/models"
)

// Result is the model's assessment of one open answer. Score uses the
// grading service's 0-10 scale; the callback processor converts it.
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible chat API for answer grading.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a grading client. An empty baseURL targets the public API.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

const systemPrompt = `You grade one exam answer. Respond with a JSON object:
{"score": <number 0-10>, "feedback": "<one or two sentences>"}.
Score strictly against the expected answer when one is given; otherwise
judge correctness and completeness on the question alone. A blank or
off-topic answer scores 0.`

// Grade asks the model to score one answer. The provider's error is
// returned verbatim so callers can recognise rate limiting.
func (c *Client) Grade(ctx context.Context, job models.GradingJob) (*Result, error) {
	model := job.Model
	if model == "" {
		model = c.model
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n", job.QuestionText)
	if job.ExpectedAnswer != "" {
		fmt.Fprintf(&prompt, "Expected answer: %s\n", job.ExpectedAnswer)
	}
	fmt.Fprintf(&prompt, "Student answer: %s\n", job.StudentAnswer)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("grading API returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse grading response: %w (raw: %s)", err, raw)
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 10 {
		result.Score = 10
	}
	return &result, nil
}
