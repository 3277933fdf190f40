package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testService(t *testing.T, handler http.HandlerFunc) *GeminiService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewGeminiService("test-key", DefaultGeminiConfig())
	s.baseURL = srv.URL
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func textResponse(text string) geminiGenerateContentResponse {
	return geminiGenerateContentResponse{
		Candidates: []geminiCandidate{
			{Content: geminiResponseContent{Parts: []geminiResponsePart{{Text: text}}}},
		},
	}
}

func TestGenerateStoryAcceptsResultAboveFloor(t *testing.T) {
	scenes := make([]string, 7)
	for i := range scenes {
		scenes[i] = fmt.Sprintf("Scene %d.", i+1)
	}
	payload, _ := json.Marshal(map[string][]string{"scenes": scenes})

	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse(string(payload)))
	})

	// Requested 8; the floor is ceil(0.8*8) = 7, so 7 scenes pass.
	got, err := s.GenerateStory(context.Background(), "volcanoes", 300, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 7 {
		t.Errorf("expected 7 scenes, got %d", len(got))
	}
}

func TestGenerateStoryRejectsShortResult(t *testing.T) {
	payload, _ := json.Marshal(map[string][]string{"scenes": {"One.", "Two.", "Three.", "Four.", "Five.", "Six."}})

	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse(string(payload)))
	})

	// 6 scenes against a floor of 7.
	_, err := s.GenerateStory(context.Background(), "volcanoes", 300, 8)
	if !IsKind(err, KindInvalidResponseShape) {
		t.Fatalf("expected invalid response shape, got %v", err)
	}
}

func TestGenerateStoryFixedFloorWhenBackendChooses(t *testing.T) {
	payload, _ := json.Marshal(map[string][]string{"scenes": {"One.", "Two.", "Three.", "Four."}})

	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse(string(payload)))
	})

	// No requested count: the fixed floor of 5 applies, 4 scenes fail.
	_, err := s.GenerateStory(context.Background(), "volcanoes", 300, 0)
	if !IsKind(err, KindInvalidResponseShape) {
		t.Fatalf("expected invalid response shape, got %v", err)
	}
}

func TestGenerateStoryRetriesOnRateLimit(t *testing.T) {
	scenes := []string{"One.", "Two.", "Three.", "Four.", "Five."}
	payload, _ := json.Marshal(map[string][]string{"scenes": scenes})

	calls := 0
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`)
			return
		}
		json.NewEncoder(w).Encode(textResponse(string(payload)))
	})

	got, err := s.GenerateStory(context.Background(), "volcanoes", 300, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected retry after 429, got %d calls", calls)
	}
	if len(got) != 5 {
		t.Errorf("expected 5 scenes, got %d", len(got))
	}
}

func TestGeneratePromptsEmptyIsInvalid(t *testing.T) {
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse(`{"prompts":[]}`))
	})

	_, err := s.GeneratePrompts(context.Background(), "a quiet village", 2)
	if !IsKind(err, KindInvalidResponseShape) {
		t.Fatalf("expected invalid response shape, got %v", err)
	}
}

func TestGenerateImageDecodesInlineData(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{
				Content: geminiResponseContent{Parts: []geminiResponsePart{{
					InlineData: &geminiInlineData{
						MimeType: "image/png",
						Data:     base64.StdEncoding.EncodeToString(raw),
					},
				}}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	})

	res, err := s.GenerateImage(context.Background(), "a lighthouse at dusk", "16:9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Data) != string(raw) {
		t.Errorf("decoded bytes mismatch")
	}
	if res.MimeType != "image/png" {
		t.Errorf("expected image/png, got %s", res.MimeType)
	}
}

func TestGenerateImageSafetyBlock(t *testing.T) {
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiGenerateContentResponse{
			Candidates: []geminiCandidate{{FinishReason: "IMAGE_SAFETY"}},
		}
		json.NewEncoder(w).Encode(resp)
	})

	_, err := s.GenerateImage(context.Background(), "something", "")
	if !IsKind(err, KindContentBlocked) {
		t.Fatalf("expected content blocked, got %v", err)
	}
}

func TestGenerateImageTextOnlyIsBlocked(t *testing.T) {
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(textResponse("I can't draw that."))
	})

	_, err := s.GenerateImage(context.Background(), "something", "")
	if !IsKind(err, KindContentBlocked) {
		t.Fatalf("expected content blocked, got %v", err)
	}
}

func TestMissingCredential(t *testing.T) {
	s := NewGeminiService("", DefaultGeminiConfig())
	_, err := s.GenerateStory(context.Background(), "anything", 300, 0)
	if !IsKind(err, KindInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}

func TestCredentialLifecycle(t *testing.T) {
	s := NewGeminiService("", DefaultGeminiConfig())
	if s.HasCredential() {
		t.Error("expected no credential")
	}
	s.SetCredential("abc")
	if !s.HasCredential() {
		t.Error("expected credential set")
	}
	s.ClearCredential()
	if s.HasCredential() {
		t.Error("expected credential cleared")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, "", KindRateLimited},
		{http.StatusBadRequest, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, KindRateLimited},
		{http.StatusBadRequest, "You exceeded your current quota", KindRateLimited},
		{http.StatusUnauthorized, "", KindInvalidCredential},
		{http.StatusForbidden, "", KindInvalidCredential},
		{http.StatusBadRequest, "API key not valid. Please pass a valid API key.", KindInvalidCredential},
		{http.StatusInternalServerError, "boom", KindTransport},
	}

	for _, c := range cases {
		err := classifyStatus(c.status, []byte(c.body))
		if !IsKind(err, c.want) {
			t.Errorf("status %d body %q: got %v, want %s", c.status, c.body, err, c.want)
		}
	}
}
