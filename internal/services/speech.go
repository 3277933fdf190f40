package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Speech synthesis
// Uses the Google Gen AI SDK to turn narration text into speech. The backend
// returns raw linear PCM: 24 kHz, mono, 16-bit little-endian samples. That
// format is a hard contract consumed by the audio decoder and the assembler.
// ---------------------------------------------------------------------------

const (
	defaultSpeechModel = "gemini-2.5-flash-preview-tts"
	defaultVoice       = "Kore"

	// SpeechSampleRate is the sample rate of all synthesized narration.
	SpeechSampleRate = 24000
)

// CredentialSource supplies the session credential. GeminiService implements
// it so both transports share one key that can be replaced mid-session.
type CredentialSource interface {
	Credential() (string, error)
}

// SpeechService synthesizes narration audio.
type SpeechService struct {
	creds CredentialSource
	model string
	cfg   GeminiConfig
	sleep sleepFunc
}

func NewSpeechService(creds CredentialSource, model string, cfg GeminiConfig) *SpeechService {
	if model == "" {
		model = defaultSpeechModel
	}
	return &SpeechService{creds: creds, model: model, cfg: cfg}
}

// GenerateSpeech converts text into raw PCM bytes. styleHint, when non-empty,
// is prefixed onto the narration text as a spoken-style directive — the TTS
// model has no separate channel for delivery style.
func (s *SpeechService) GenerateSpeech(ctx context.Context, text, voiceID, styleHint string) ([]byte, error) {
	if voiceID == "" {
		voiceID = defaultVoice
	}

	spoken := text
	if styleHint != "" {
		spoken = fmt.Sprintf("Say in a %s tone: %s", styleHint, text)
	}

	policy := RetryPolicy{MaxAttempts: s.cfg.MaxAttempts, Backoff: s.cfg.TextBackoff, Label: "speech"}

	var pcm []byte
	err := withRetry(ctx, policy, s.sleep, func() error {
		key, err := s.creds.Credential()
		if err != nil {
			return err
		}

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return WrapGenError(KindTransport, err, "failed to create genai client")
		}

		config := &genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceID},
				},
			},
		}

		resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(spoken), config)
		if err != nil {
			return classifySDKError(err)
		}

		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return NewGenError(KindInvalidResponseShape, "speech response had no candidates")
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				pcm = part.InlineData.Data
				return nil
			}
		}
		return NewGenError(KindInvalidResponseShape, "speech response contained no audio data")
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Speech] Synthesized %d PCM bytes (voice=%s, textLen=%d)", len(pcm), voiceID, len(text))
	return pcm, nil
}

// classifySDKError maps Gen AI SDK errors onto the taxonomy. The SDK wraps
// backend status codes into error strings, so matching is textual.
func classifySDKError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "quota"),
		strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return WrapGenError(KindRateLimited, err, "speech backend rate limited")

	case strings.Contains(lower, "api key not valid"),
		strings.Contains(msg, "API_KEY_INVALID"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return WrapGenError(KindInvalidCredential, err, "speech backend rejected the credential")

	default:
		return WrapGenError(KindTransport, err, "speech request failed")
	}
}
