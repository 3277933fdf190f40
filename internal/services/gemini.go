package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	geminiBaseURL    = "https://generativelanguage.googleapis.com"
	geminiTextModel  = "gemini-2.5-flash"
	geminiImageModel = "gemini-2.5-flash-image"
)

// GeminiConfig holds the tunables for the generation client. The backoff
// windows are chosen to exceed typical per-minute quota windows.
type GeminiConfig struct {
	MaxAttempts      int           // retry cap per capability call
	TextBackoff      time.Duration // rate-limit backoff for text capabilities
	ImageBackoff     time.Duration // rate-limit backoff for image generation
	MinSceneCount    int           // fixed floor when no explicit count is requested
	MinSceneFraction float64       // fraction-of-requested floor when a count is given
}

// DefaultGeminiConfig returns the production defaults.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		MaxAttempts:      3,
		TextBackoff:      65 * time.Second,
		ImageBackoff:     91 * time.Second,
		MinSceneCount:    5,
		MinSceneFraction: 0.8,
	}
}

// GeminiService wraps the Gemini REST API for story segmentation, prompt
// expansion, and image synthesis. The credential is held behind a mutex so
// the API layer can replace or clear it mid-session.
type GeminiService struct {
	mu      sync.RWMutex
	apiKey  string
	baseURL string
	client  *http.Client
	cfg     GeminiConfig
	sleep   sleepFunc // nil = real sleep; tests inject a recorder
}

func NewGeminiService(apiKey string, cfg GeminiConfig) *GeminiService {
	return &GeminiService{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		client:  &http.Client{Timeout: 300 * time.Second},
		cfg:     cfg,
	}
}

// SetCredential replaces the API key for the current session.
func (s *GeminiService) SetCredential(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

// ClearCredential drops the stored key, forcing re-entry before the next call.
func (s *GeminiService) ClearCredential() {
	s.SetCredential("")
}

// HasCredential reports whether a key is currently stored.
func (s *GeminiService) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey != ""
}

func (s *GeminiService) Credential() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiKey == "" {
		return "", NewGenError(KindInvalidCredential, "no API credential set")
	}
	return s.apiKey, nil
}

// Gemini API request/response structures
type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string               `json:"responseModalities,omitempty"`
	ResponseMIMEType   string                 `json:"responseMimeType,omitempty"`
	ResponseSchema     map[string]interface{} `json:"responseSchema,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiResponseContent `json:"content"`
	FinishReason string                `json:"finishReason,omitempty"`
}

type geminiResponseContent struct {
	Parts []geminiResponsePart `json:"parts"`
}

type geminiResponsePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// ImageResult carries the raw bytes of a generated image plus the encoding
// the backend reported, so callers can infer a file extension.
type ImageResult struct {
	Data     []byte
	MimeType string
}

// ---------------------------------------------------------------------------
// Story segmentation
// ---------------------------------------------------------------------------

// GenerateStory splits a topic into an ordered list of narrated scene texts.
// sceneCount <= 0 means the backend chooses; the result must still clear the
// configured fixed floor. With an explicit count the floor is
// MinSceneFraction of the request.
func (s *GeminiService) GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error) {
	prompt := buildStoryPrompt(topic, targetLength, sceneCount)

	reqBody := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema: map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"scenes": map[string]interface{}{
						"type":  "ARRAY",
						"items": map[string]interface{}{"type": "STRING"},
					},
				},
				"required": []string{"scenes"},
			},
		},
	}

	policy := RetryPolicy{MaxAttempts: s.cfg.MaxAttempts, Backoff: s.cfg.TextBackoff, Label: "story"}

	var scenes []string
	err := withRetry(ctx, policy, s.sleep, func() error {
		raw, err := s.generateText(ctx, geminiTextModel, reqBody)
		if err != nil {
			return err
		}

		var parsed struct {
			Scenes []string `json:"scenes"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
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

	log.Printf("[Gemini] Story generated: %d scenes for topic %q", len(scenes), topic)
	return scenes, nil
}

// ---------------------------------------------------------------------------
// Prompt expansion
// ---------------------------------------------------------------------------

// GeneratePrompts expands one scene description into variationCount
// illustration prompts. An empty list is an invalid response.
func (s *GeminiService) GeneratePrompts(ctx context.Context, sceneDescription string, variationCount int) ([]string, error) {
	prompt := fmt.Sprintf(`You write prompts for an AI image generator.
Write %d distinct, richly detailed illustration prompts for the following scene.
Each prompt must stand alone: describe subject, setting, lighting, and mood.
Do not number the prompts or add commentary.

SCENE:
%s`, variationCount, sceneDescription)

	reqBody := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema: map[string]interface{}{
				"type": "OBJECT",
				"properties": map[string]interface{}{
					"prompts": map[string]interface{}{
						"type":  "ARRAY",
						"items": map[string]interface{}{"type": "STRING"},
					},
				},
				"required": []string{"prompts"},
			},
		},
	}

	policy := RetryPolicy{MaxAttempts: s.cfg.MaxAttempts, Backoff: s.cfg.TextBackoff, Label: "prompts"}

	var prompts []string
	err := withRetry(ctx, policy, s.sleep, func() error {
		raw, err := s.generateText(ctx, geminiTextModel, reqBody)
		if err != nil {
			return err
		}

		var parsed struct {
			Prompts []string `json:"prompts"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return WrapGenError(KindInvalidResponseShape, err, "prompt response is not the expected JSON shape")
		}
		if len(parsed.Prompts) == 0 {
			return NewGenError(KindInvalidResponseShape, "prompt response contained no prompts")
		}

		prompts = parsed.Prompts
		return nil
	})
	if err != nil {
		return nil, err
	}

	return prompts, nil
}

// ---------------------------------------------------------------------------
// Image synthesis
// ---------------------------------------------------------------------------

// GenerateImage renders one illustration. The aspect ratio is folded into the
// prompt text — the image model has no structured config channel for it.
func (s *GeminiService) GenerateImage(ctx context.Context, prompt, aspectRatio string) (*ImageResult, error) {
	fullPrompt := prompt
	if aspectRatio != "" {
		fullPrompt = fmt.Sprintf("%s\n\nOutput: %s aspect ratio, highest quality.", prompt, aspectRatio)
	}

	reqBody := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: fullPrompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	policy := RetryPolicy{MaxAttempts: s.cfg.MaxAttempts, Backoff: s.cfg.ImageBackoff, Label: "image"}

	var result *ImageResult
	err := withRetry(ctx, policy, s.sleep, func() error {
		resp, err := s.doGenerateContent(ctx, geminiImageModel, reqBody)
		if err != nil {
			return err
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return NewGenError(KindContentBlocked,
				"image request blocked (%s) — likely the safety filter", resp.PromptFeedback.BlockReason)
		}
		if len(resp.Candidates) == 0 {
			return NewGenError(KindContentBlocked, "image response had no candidates — likely the safety filter")
		}

		cand := resp.Candidates[0]
		if reason := cand.FinishReason; reason == "SAFETY" || reason == "IMAGE_SAFETY" || reason == "PROHIBITED_CONTENT" {
			return NewGenError(KindContentBlocked, "image generation declined (%s)", reason)
		}

		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return WrapGenError(KindTransport, err, "failed to decode base64 image")
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			result = &ImageResult{Data: data, MimeType: mime}
			return nil
		}

		// The model answered with text instead of an image. In practice this
		// is the safety system declining to draw.
		return NewGenError(KindContentBlocked, "backend returned no image data")
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Gemini] Image generated (%d bytes, %s)", len(result.Data), result.MimeType)
	return result, nil
}

// ---------------------------------------------------------------------------
// Shared transport
// ---------------------------------------------------------------------------

// generateText runs one text-model call and returns the first text part.
func (s *GeminiService) generateText(ctx context.Context, model string, reqBody geminiGenerateContentRequest) (string, error) {
	resp, err := s.doGenerateContent(ctx, model, reqBody)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", NewGenError(KindInvalidResponseShape, "response had no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text, nil
		}
	}
	return "", NewGenError(KindInvalidResponseShape, "response had no text part")
}

func (s *GeminiService) doGenerateContent(ctx context.Context, model string, reqBody geminiGenerateContentRequest) (*geminiGenerateContentResponse, error) {
	key, err := s.Credential()
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, WrapGenError(KindTransport, err, "failed to marshal request")
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", s.baseURL, model, key)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, WrapGenError(KindTransport, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, WrapGenError(KindTransport, err, "request failed")
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapGenError(KindTransport, err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, bodyBytes)
	}

	var geminiResp geminiGenerateContentResponse
	if err := json.Unmarshal(bodyBytes, &geminiResp); err != nil {
		return nil, WrapGenError(KindTransport, err, "failed to decode response")
	}

	return &geminiResp, nil
}

// classifyStatus maps a non-200 backend response onto the error taxonomy.
// Invalid-credential responses must be distinguished from rate limits so the
// caller prompts for re-entry instead of retrying.
func classifyStatus(status int, body []byte) error {
	text := string(body)
	lower := strings.ToLower(text)

	switch {
	case status == http.StatusTooManyRequests,
		strings.Contains(text, "RESOURCE_EXHAUSTED"),
		strings.Contains(lower, "quota"):
		return NewGenError(KindRateLimited, "backend rate limited (status %d)", status)

	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		strings.Contains(lower, "api key not valid"),
		strings.Contains(lower, "api_key_invalid"):
		return NewGenError(KindInvalidCredential, "backend rejected the credential (status %d)", status)

	default:
		return NewGenError(KindTransport, "backend returned status %d: %s", status, truncateString(text, 300))
	}
}

func buildStoryPrompt(topic string, targetLength, sceneCount int) string {
	var b strings.Builder
	b.WriteString("You are a documentary narrator. Write a short narrated story about the topic below, ")
	if sceneCount > 0 {
		fmt.Fprintf(&b, "split into exactly %d scenes. ", sceneCount)
	} else {
		b.WriteString("split into scenes, one narrative beat each. ")
	}
	fmt.Fprintf(&b, "The whole story should run roughly %d words. ", targetLength)
	b.WriteString(`Each scene is 2-3 spoken sentences, written to be listened to, not read.
Scenes must flow into each other as one continuous story.

TOPIC:
`)
	b.WriteString(topic)
	return b.String()
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
