package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIStoryService is the alternate story segmentation provider. It speaks
// the same StoryService contract as Gemini, including the minimum-scene-count
// floor and the error taxonomy, using OpenAI JSON mode for structure.
type OpenAIStoryService struct {
	client *openai.Client
	model  string
	cfg    GeminiConfig // shared retry/floor tunables
	sleep  sleepFunc
}

func NewOpenAIStoryService(apiKey string, cfg GeminiConfig) *OpenAIStoryService {
	return &OpenAIStoryService{
		client: openai.NewClient(apiKey),
		model:  "gpt-5-mini",
		cfg:    cfg,
	}
}

// GenerateStory implements StoryService.
func (s *OpenAIStoryService) GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error) {
	systemPrompt := buildStoryPrompt(topic, targetLength, sceneCount) +
		"\n\nRespond with a JSON object of the form {\"scenes\": [\"...\", \"...\"]}."

	policy := RetryPolicy{MaxAttempts: s.cfg.MaxAttempts, Backoff: s.cfg.TextBackoff, Label: "story"}

	var scenes []string
	err := withRetry(ctx, policy, s.sleep, func() error {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: "Write the story now."},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return NewGenError(KindInvalidResponseShape, "no response from openai")
		}

		var parsed struct {
			Scenes []string `json:"scenes"`
		}
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
			return WrapGenError(KindInvalidResponseShape, err, "story response is not the expected JSON shape")
		}

		floor := s.cfg.MinSceneCount
		if sceneCount > 0 {
			floor = int(math.Ceil(s.cfg.MinSceneFraction * float64(sceneCount)))
		}
		if len(parsed.Scenes) < floor {
			return NewGenError(KindInvalidResponseShape,
				"story returned %d scenes, need at least %d", len(parsed.Scenes), floor)
		}

		scenes = parsed.Scenes
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[OpenAI story] Story generated: %d scenes for topic %q", len(scenes), topic)
	return scenes, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return WrapGenError(KindRateLimited, err, "openai rate limited")
		case 401, 403:
			return WrapGenError(KindInvalidCredential, err, "openai rejected the credential")
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return WrapGenError(KindRateLimited, err, "openai rate limited")
	}
	return WrapGenError(KindTransport, err, "openai request failed")
}
