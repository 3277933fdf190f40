package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/norell/slidecast/internal/models"
	"github.com/norell/slidecast/internal/scenes"
	"github.com/norell/slidecast/internal/services"
)

type fakeGen struct {
	storyScenes []string
	storyErr    error
	promptErr   error
	imageErr    error
	imageCalls  int32
	onImage     func(n int32)
	cleared     bool
}

func (f *fakeGen) GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error) {
	if f.storyErr != nil {
		return nil, f.storyErr
	}
	return f.storyScenes, nil
}

func (f *fakeGen) GeneratePrompts(ctx context.Context, sceneDescription string, variationCount int) ([]string, error) {
	if f.promptErr != nil {
		return nil, f.promptErr
	}
	prompts := make([]string, variationCount)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("prompt %d for %s", i+1, sceneDescription)
	}
	return prompts, nil
}

func (f *fakeGen) GenerateImage(ctx context.Context, prompt, aspectRatio string) (*services.ImageResult, error) {
	n := atomic.AddInt32(&f.imageCalls, 1)
	if f.onImage != nil {
		f.onImage(n)
	}
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &services.ImageResult{Data: []byte{byte(n)}, MimeType: "image/png"}, nil
}

func (f *fakeGen) ClearCredential() { f.cleared = true }

type fakeNarrator struct {
	failFor string // substring of scene text that should fail
	calls   int
}

func (f *fakeNarrator) GenerateSpeech(ctx context.Context, text, voiceID, styleHint string) ([]byte, error) {
	f.calls++
	if f.failFor != "" && strings.Contains(text, f.failFor) {
		return nil, services.NewGenError(services.KindTransport, "speech backend unavailable")
	}
	return make([]byte, 48000), nil // one second at 24 kHz
}

func testOrchestrator(gen Generator, narrator Narrator) (*Orchestrator, *scenes.Store) {
	store := scenes.NewStore()
	o := NewOrchestrator(store, gen, narrator, Config{
		SceneDelay:      2 * time.Second,
		ImageDelay:      4 * time.Second,
		PromptsPerScene: 2,
		AspectRatio:     "16:9",
	})
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return o, store
}

func testRun(narration bool) *models.Run {
	return &models.Run{
		ID:        uuid.New(),
		Topic:     "deep sea vents",
		Narration: narration,
		Status:    models.RunStatusQueued,
	}
}

func TestExecuteFullRun(t *testing.T) {
	gen := &fakeGen{storyScenes: []string{"one", "two", "three"}}
	narr := &fakeNarrator{}
	o, store := testOrchestrator(gen, narr)

	var statuses []models.RunStatus
	err := o.Execute(context.Background(), testRun(true), func(s models.RunStatus) {
		statuses = append(statuses, s)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []models.RunStatus{models.RunStatusStory, models.RunStatusAudio, models.RunStatusPrompts, models.RunStatusImages}
	if len(statuses) != len(want) {
		t.Fatalf("statuses %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status %d: got %s, want %s", i, statuses[i], want[i])
		}
	}

	snap := store.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(snap))
	}
	for _, sc := range snap {
		if !sc.HasAudio() {
			t.Errorf("scene %d missing audio", sc.ID)
		}
		if len(sc.Prompts) != 2 {
			t.Errorf("scene %d has %d prompts", sc.ID, len(sc.Prompts))
		}
		if sc.FilledImageCount() != 2 {
			t.Errorf("scene %d has %d images", sc.ID, sc.FilledImageCount())
		}
		if sc.BusyPrompts || sc.BusyImages || sc.BusyAudio {
			t.Errorf("scene %d left busy", sc.ID)
		}
	}
	if gen.imageCalls != 6 {
		t.Errorf("expected 6 image calls, got %d", gen.imageCalls)
	}
}

func TestExecuteSkipsAudioWhenNarrationOff(t *testing.T) {
	gen := &fakeGen{storyScenes: []string{"one", "two", "three", "four", "five"}}
	narr := &fakeNarrator{}
	o, _ := testOrchestrator(gen, narr)

	if err := o.Execute(context.Background(), testRun(false), func(models.RunStatus) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if narr.calls != 0 {
		t.Errorf("narrator called %d times with narration off", narr.calls)
	}
}

func TestAudioFailureIsLocallyRecovered(t *testing.T) {
	gen := &fakeGen{storyScenes: []string{"one", "two", "three"}}
	narr := &fakeNarrator{failFor: "two"}
	o, store := testOrchestrator(gen, narr)

	err := o.Execute(context.Background(), testRun(true), func(models.RunStatus) {})
	if err != nil {
		t.Fatalf("per-scene audio failure must not fail the run: %v", err)
	}

	snap := store.Snapshot()
	if !snap[0].HasAudio() || !snap[2].HasAudio() {
		t.Error("healthy scenes should have audio")
	}
	if snap[1].HasAudio() {
		t.Error("failed scene should have no audio")
	}
	// The failed scene still got its prompts and images.
	if snap[1].FilledImageCount() != 2 {
		t.Errorf("failed-audio scene has %d images", snap[1].FilledImageCount())
	}
}

func TestStoryFailureIsFatal(t *testing.T) {
	gen := &fakeGen{storyErr: services.NewGenError(services.KindInvalidResponseShape, "bad shape")}
	o, store := testOrchestrator(gen, &fakeNarrator{})

	err := o.Execute(context.Background(), testRun(true), func(models.RunStatus) {})
	if !services.IsKind(err, services.KindInvalidResponseShape) {
		t.Fatalf("expected story error surfaced, got %v", err)
	}
	if store.Count() != 0 {
		t.Error("no scenes should exist after story failure")
	}
}

func TestPromptFailureIsFatal(t *testing.T) {
	gen := &fakeGen{
		storyScenes: []string{"one", "two"},
		promptErr:   services.NewGenError(services.KindRateLimited, "exhausted"),
	}
	o, _ := testOrchestrator(gen, &fakeNarrator{})

	err := o.Execute(context.Background(), testRun(false), func(models.RunStatus) {})
	if !services.IsKind(err, services.KindRateLimited) {
		t.Fatalf("expected rate limit surfaced, got %v", err)
	}
}

func TestInvalidCredentialClearsStoredKey(t *testing.T) {
	gen := &fakeGen{
		storyScenes: []string{"one", "two"},
		promptErr:   services.NewGenError(services.KindInvalidCredential, "key rejected"),
	}
	o, _ := testOrchestrator(gen, &fakeNarrator{})

	err := o.Execute(context.Background(), testRun(false), func(models.RunStatus) {})
	if !services.IsKind(err, services.KindInvalidCredential) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if !gen.cleared {
		t.Error("stored credential should be cleared after auth failure")
	}
}

func TestCancelStopsAtNextCheckpoint(t *testing.T) {
	run := testRun(false)
	gen := &fakeGen{storyScenes: []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}}
	o, store := testOrchestrator(gen, &fakeNarrator{})

	gen.onImage = func(n int32) {
		if n == 3 {
			if !o.Cancel(run.ID) {
				panic("cancel should find the active run")
			}
		}
	}

	err := o.Execute(context.Background(), run, func(models.RunStatus) {})
	if !services.IsKind(err, services.KindUserCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	// The cancel lands during the third call; the check before the fourth
	// image stops the loop.
	if gen.imageCalls != 3 {
		t.Errorf("expected 3 image calls before stop, got %d", gen.imageCalls)
	}
	for _, sc := range store.Snapshot() {
		if sc.BusyPrompts || sc.BusyImages || sc.BusyAudio {
			t.Errorf("scene %d left busy after cancel", sc.ID)
		}
	}
}

type slowStartGen struct {
	fakeGen
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func (g *slowStartGen) GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error) {
	if atomic.AddInt32(&g.calls, 1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.fakeGen.GenerateStory(ctx, topic, targetLength, sceneCount)
}

func TestNewRunSupersedesActiveRun(t *testing.T) {
	gen := &slowStartGen{
		fakeGen: fakeGen{storyScenes: []string{"one", "two"}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, _ := testOrchestrator(gen, &fakeNarrator{})

	first := make(chan error, 1)
	go func() {
		first <- o.Execute(context.Background(), testRun(false), func(models.RunStatus) {})
	}()
	<-gen.entered

	second := make(chan error, 1)
	go func() {
		second <- o.Execute(context.Background(), testRun(false), func(models.RunStatus) {})
	}()

	// Wait until the newcomer has flagged the running one for cancellation,
	// then let the stalled story call return.
	for {
		o.mu.Lock()
		flagged := o.active != nil && o.active.cancelled.Load()
		o.mu.Unlock()
		if flagged {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(gen.release)

	if err := <-first; !services.IsKind(err, services.KindUserCancelled) {
		t.Fatalf("superseded run should be cancelled, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("new run should complete: %v", err)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	o, _ := testOrchestrator(&fakeGen{storyScenes: []string{"x"}}, &fakeNarrator{})
	if o.Cancel(uuid.New()) {
		t.Error("cancelling with no active run should report false")
	}
}

func TestImageStageSkipsFilledSlots(t *testing.T) {
	gen := &fakeGen{}
	o, store := testOrchestrator(gen, &fakeNarrator{})

	store.Replace([]string{"a scene"})
	store.SetPrompts(1, []string{"p1", "p2", "p3"})
	store.SetImage(1, 1, []byte{0xAA}, "image/png")

	ar := o.begin(uuid.New())
	defer o.finish(ar)

	filled := 0
	if err := o.imageScene(context.Background(), ar, 1, &filled, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.imageCalls != 2 {
		t.Errorf("expected 2 image calls for the empty slots, got %d", gen.imageCalls)
	}
	sc, _ := store.Get(1)
	if sc.Images[1].Data[0] != 0xAA {
		t.Error("pre-filled slot was overwritten")
	}
	if sc.FilledImageCount() != 3 {
		t.Errorf("expected all slots filled, got %d", sc.FilledImageCount())
	}
}

func TestRegeneratePromptsRespectsBusyFlag(t *testing.T) {
	gen := &fakeGen{}
	o, store := testOrchestrator(gen, &fakeNarrator{})
	store.Replace([]string{"a scene"})

	store.TryBegin(1, models.BusyPrompts)
	started, err := o.RegeneratePrompts(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started {
		t.Error("regeneration should refuse while the scene is busy")
	}

	store.End(1, models.BusyPrompts)
	started, err = o.RegeneratePrompts(context.Background(), 1)
	if err != nil || !started {
		t.Fatalf("expected regeneration to run: started=%v err=%v", started, err)
	}
	sc, _ := store.Get(1)
	if len(sc.Prompts) != 2 {
		t.Errorf("expected 2 prompts, got %d", len(sc.Prompts))
	}
}

func TestRegenerateImagesFillsOnlyEmptySlots(t *testing.T) {
	gen := &fakeGen{}
	o, store := testOrchestrator(gen, &fakeNarrator{})
	store.Replace([]string{"a scene"})
	store.SetPrompts(1, []string{"p1", "p2"})
	store.SetImage(1, 0, []byte{0xFF}, "image/png")

	started, err := o.RegenerateImages(context.Background(), 1)
	if err != nil || !started {
		t.Fatalf("expected regeneration to run: started=%v err=%v", started, err)
	}

	if gen.imageCalls != 1 {
		t.Errorf("expected 1 call for the single empty slot, got %d", gen.imageCalls)
	}
	sc, _ := store.Get(1)
	if sc.Images[0].Data[0] != 0xFF {
		t.Error("filled slot must not be overwritten")
	}
	if !sc.Images[1].Filled() {
		t.Error("empty slot should have been filled")
	}
}

func TestRegenerateImagesNoOpWhenAllFilled(t *testing.T) {
	gen := &fakeGen{}
	o, store := testOrchestrator(gen, &fakeNarrator{})
	store.Replace([]string{"a scene"})
	store.SetPrompts(1, []string{"p1", "p2"})
	store.SetImage(1, 0, []byte{0xFF}, "image/png")
	store.SetImage(1, 1, []byte{0xFE}, "image/png")

	started, err := o.RegenerateImages(context.Background(), 1)
	if err != nil || !started {
		t.Fatalf("expected the call to succeed: started=%v err=%v", started, err)
	}
	if gen.imageCalls != 0 {
		t.Errorf("expected no calls with every slot filled, got %d", gen.imageCalls)
	}
	sc, _ := store.Get(1)
	if sc.Images[0].Data[0] != 0xFF || sc.Images[1].Data[0] != 0xFE {
		t.Error("filled slots must survive untouched")
	}
}
