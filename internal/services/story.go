package services

import "context"

// ---------------------------------------------------------------------------
// StoryService — common interface for story segmentation providers
// Gemini is the default; OpenAI is available as an alternate provider so a
// deployment can route text generation away from the image backend's quota.
// ---------------------------------------------------------------------------

// StoryService is implemented by any provider that can split a topic into an
// ordered list of narrated scene texts.
type StoryService interface {
	// GenerateStory returns the scene texts for a topic. targetLength is the
	// rough total word count; sceneCount <= 0 lets the provider choose the
	// segmentation (the configured minimum floor still applies).
	GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error)
}

var _ StoryService = (*GeminiService)(nil)
var _ StoryService = (*OpenAIStoryService)(nil)
