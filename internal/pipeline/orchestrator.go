// Package pipeline drives the generation flow: story, narration, image
// prompts, images. One run is active at a time; starting a new run cancels
// the previous one.
package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/norell/slidecast/internal/models"
	"github.com/norell/slidecast/internal/scenes"
	"github.com/norell/slidecast/internal/services"
)

// Generator is the text/image backend the pipeline generates against.
type Generator interface {
	GenerateStory(ctx context.Context, topic string, targetLength, sceneCount int) ([]string, error)
	GeneratePrompts(ctx context.Context, sceneDescription string, variationCount int) ([]string, error)
	GenerateImage(ctx context.Context, prompt, aspectRatio string) (*services.ImageResult, error)
}

// Narrator produces spoken narration for a scene's text.
type Narrator interface {
	GenerateSpeech(ctx context.Context, text, voiceID, styleHint string) ([]byte, error)
}

// credentialClearer is implemented by backends whose stored key can be
// dropped after an auth failure, so later calls fail fast instead of
// hammering the API with a dead key.
type credentialClearer interface {
	ClearCredential()
}

type Config struct {
	SceneDelay      time.Duration // pause between scenes in the audio and prompt stages
	ImageDelay      time.Duration // pause after each successful image
	PromptsPerScene int
	AspectRatio     string
}

func DefaultConfig() Config {
	return Config{
		SceneDelay:      2 * time.Second,
		ImageDelay:      4 * time.Second,
		PromptsPerScene: 2,
		AspectRatio:     "16:9",
	}
}

type activeRun struct {
	id        uuid.UUID
	cancelled atomic.Bool
	done      chan struct{}
}

type Orchestrator struct {
	store    *scenes.Store
	gen      Generator
	narrator Narrator
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	active   *activeRun
	progress models.Progress

	// beginMu serializes run handoff so two starters cannot both observe
	// the same prior run and race past its shutdown.
	beginMu sync.Mutex
}

func NewOrchestrator(store *scenes.Store, gen Generator, narrator Narrator, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		gen:      gen,
		narrator: narrator,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

// Progress reports where the current run stands. Counts are recomputed from
// the live scene state at each stage boundary, not accumulated.
func (o *Orchestrator) Progress() models.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Cancel requests cancellation of the given run if it is the active one.
// The request takes effect at the next stage or loop boundary.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.id != runID {
		return false
	}
	o.active.cancelled.Store(true)
	return true
}

// Execute runs the full pipeline for one run. onStatus is called at each
// stage transition so the caller can persist run state. The returned error
// carries KindUserCancelled when the run was cancelled, either by an
// explicit cancel request or by a newer run taking over.
func (o *Orchestrator) Execute(ctx context.Context, run *models.Run, onStatus func(models.RunStatus)) error {
	ar := o.begin(run.ID)
	defer o.finish(ar)

	log.Printf("[Pipeline] Run %s started: topic=%q scenes=%d", run.ID, run.Topic, run.SceneCount)

	err := o.execute(ctx, ar, run, onStatus)
	if err != nil {
		if services.IsKind(err, services.KindUserCancelled) {
			log.Printf("[Pipeline] Run %s cancelled", run.ID)
		} else {
			log.Printf("[Pipeline] Run %s failed: %v", run.ID, err)
		}
		// Auth failures poison every later call; drop the stored key so
		// the user is prompted for a fresh one.
		if services.IsKind(err, services.KindInvalidCredential) {
			if c, ok := o.gen.(credentialClearer); ok {
				c.ClearCredential()
			}
		}
		o.store.ForceClearBusy()
		return err
	}

	log.Printf("[Pipeline] Run %s completed", run.ID)
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, ar *activeRun, run *models.Run, onStatus func(models.RunStatus)) error {
	// Stage 1: story. Failure here is fatal — there is nothing to recover to.
	onStatus(models.RunStatusStory)
	o.setProgress(0, 1, "Writing story")

	if err := o.checkCancel(ctx, ar); err != nil {
		return err
	}
	descriptions, err := o.gen.GenerateStory(ctx, run.Topic, run.TargetLength, run.SceneCount)
	if err != nil {
		return err
	}
	o.store.Replace(descriptions)
	total := len(descriptions)
	log.Printf("[Pipeline] Run %s: story produced %d scenes", run.ID, total)

	// Stage 2: narration. A scene whose speech call fails is logged and
	// skipped; the run continues and that scene ships without audio.
	if run.Narration {
		onStatus(models.RunStatusAudio)
		for i := 1; i <= total; i++ {
			o.setProgress(i-1, total, "Narrating scenes")
			if err := o.checkCancel(ctx, ar); err != nil {
				return err
			}
			if err := o.narrateScene(ctx, run, i); err != nil {
				if services.IsKind(err, services.KindUserCancelled) {
					return err
				}
				log.Printf("[Pipeline] Run %s: audio for scene %d failed, continuing: %v", run.ID, i, err)
			}
			if i < total {
				if err := o.sleep(ctx, o.cfg.SceneDelay); err != nil {
					return cancelErr(err)
				}
			}
		}
	}

	// Stage 3: prompts. Fatal on any failure.
	onStatus(models.RunStatusPrompts)
	for i := 1; i <= total; i++ {
		o.setProgress(i-1, total, "Designing visuals")
		if err := o.checkCancel(ctx, ar); err != nil {
			return err
		}
		if err := o.promptScene(ctx, i); err != nil {
			return err
		}
		if i < total {
			if err := o.sleep(ctx, o.cfg.SceneDelay); err != nil {
				return cancelErr(err)
			}
		}
	}

	// Stage 4: images. Already-filled slots are skipped, so a retried run
	// resumes where the last one stopped. Fatal on any failure.
	onStatus(models.RunStatusImages)
	slotTotal := o.countSlots()
	filled := 0
	for i := 1; i <= total; i++ {
		if err := o.checkCancel(ctx, ar); err != nil {
			return err
		}
		if err := o.imageScene(ctx, ar, i, &filled, slotTotal); err != nil {
			return err
		}
	}
	o.setProgress(slotTotal, slotTotal, "Generating images")

	return nil
}

func (o *Orchestrator) narrateScene(ctx context.Context, run *models.Run, id int) error {
	ok, err := o.store.TryBegin(id, models.BusyAudio)
	if err != nil || !ok {
		return err
	}
	defer o.store.End(id, models.BusyAudio)

	scene, err := o.store.Get(id)
	if err != nil {
		return err
	}
	voice, style := "", ""
	if run.VoiceID != nil {
		voice = *run.VoiceID
	}
	if run.VoiceStyle != nil {
		style = *run.VoiceStyle
	}
	pcm, err := o.narrator.GenerateSpeech(ctx, scene.Description, voice, style)
	if err != nil {
		return err
	}
	return o.store.SetAudio(id, pcm)
}

func (o *Orchestrator) promptScene(ctx context.Context, id int) error {
	ok, err := o.store.TryBegin(id, models.BusyPrompts)
	if err != nil || !ok {
		return err
	}
	defer o.store.End(id, models.BusyPrompts)

	scene, err := o.store.Get(id)
	if err != nil {
		return err
	}
	prompts, err := o.gen.GeneratePrompts(ctx, scene.Description, o.cfg.PromptsPerScene)
	if err != nil {
		return err
	}
	return o.store.SetPrompts(id, prompts)
}

func (o *Orchestrator) imageScene(ctx context.Context, ar *activeRun, id int, filled *int, slotTotal int) error {
	ok, err := o.store.TryBegin(id, models.BusyImages)
	if err != nil || !ok {
		return err
	}
	defer o.store.End(id, models.BusyImages)

	scene, err := o.store.Get(id)
	if err != nil {
		return err
	}
	for slot, img := range scene.Images {
		if img.Filled() {
			*filled++
			continue
		}
		o.setProgress(*filled, slotTotal, "Generating images")
		if err := o.checkCancel(ctx, ar); err != nil {
			return err
		}
		res, err := o.gen.GenerateImage(ctx, scene.Prompts[slot], o.cfg.AspectRatio)
		if err != nil {
			return err
		}
		if err := o.store.SetImage(id, slot, res.Data, res.MimeType); err != nil {
			return err
		}
		*filled++
		if err := o.sleep(ctx, o.cfg.ImageDelay); err != nil {
			return cancelErr(err)
		}
	}
	return nil
}

// RegeneratePrompts replaces one scene's prompts, discarding its images.
// Returns false without doing work if a prompt job is already running for
// the scene.
func (o *Orchestrator) RegeneratePrompts(ctx context.Context, id int) (bool, error) {
	ok, err := o.store.TryBegin(id, models.BusyPrompts)
	if err != nil || !ok {
		return ok, err
	}
	defer o.store.End(id, models.BusyPrompts)

	scene, err := o.store.Get(id)
	if err != nil {
		return true, err
	}
	prompts, err := o.gen.GeneratePrompts(ctx, scene.Description, o.cfg.PromptsPerScene)
	if err != nil {
		return true, o.noteCredential(err)
	}
	return true, o.store.SetPrompts(id, prompts)
}

// RegenerateImages fills a scene's empty image slots from its current
// prompts. Filled slots are never overwritten; with every slot filled the
// call is a no-op. Blanking first is its own operation (ClearImages).
func (o *Orchestrator) RegenerateImages(ctx context.Context, id int) (bool, error) {
	ok, err := o.store.TryBegin(id, models.BusyImages)
	if err != nil || !ok {
		return ok, err
	}
	defer o.store.End(id, models.BusyImages)

	scene, err := o.store.Get(id)
	if err != nil {
		return true, err
	}
	remaining := len(scene.Images) - scene.FilledImageCount()
	for slot, img := range scene.Images {
		if img.Filled() {
			continue
		}
		res, err := o.gen.GenerateImage(ctx, scene.Prompts[slot], o.cfg.AspectRatio)
		if err != nil {
			return true, o.noteCredential(err)
		}
		if err := o.store.SetImage(id, slot, res.Data, res.MimeType); err != nil {
			return true, err
		}
		remaining--
		if remaining > 0 {
			if err := o.sleep(ctx, o.cfg.ImageDelay); err != nil {
				return true, cancelErr(err)
			}
		}
	}
	return true, nil
}

// RegenerateAudio re-narrates one scene.
func (o *Orchestrator) RegenerateAudio(ctx context.Context, id int, voiceID, styleHint string) (bool, error) {
	ok, err := o.store.TryBegin(id, models.BusyAudio)
	if err != nil || !ok {
		return ok, err
	}
	defer o.store.End(id, models.BusyAudio)

	scene, err := o.store.Get(id)
	if err != nil {
		return true, err
	}
	pcm, err := o.narrator.GenerateSpeech(ctx, scene.Description, voiceID, styleHint)
	if err != nil {
		return true, o.noteCredential(err)
	}
	return true, o.store.SetAudio(id, pcm)
}

func (o *Orchestrator) noteCredential(err error) error {
	if services.IsKind(err, services.KindInvalidCredential) {
		if c, ok := o.gen.(credentialClearer); ok {
			c.ClearCredential()
		}
	}
	return err
}

func (o *Orchestrator) begin(id uuid.UUID) *activeRun {
	o.beginMu.Lock()
	defer o.beginMu.Unlock()
	o.mu.Lock()
	prev := o.active
	o.mu.Unlock()

	if prev != nil {
		prev.cancelled.Store(true)
		<-prev.done
	}

	ar := &activeRun{id: id, done: make(chan struct{})}
	o.mu.Lock()
	o.active = ar
	o.progress = models.Progress{}
	o.mu.Unlock()
	return ar
}

func (o *Orchestrator) finish(ar *activeRun) {
	o.mu.Lock()
	if o.active == ar {
		o.active = nil
	}
	o.mu.Unlock()
	close(ar.done)
}

func (o *Orchestrator) checkCancel(ctx context.Context, ar *activeRun) error {
	if ar.cancelled.Load() || ctx.Err() != nil {
		return services.NewGenError(services.KindUserCancelled, "generation cancelled")
	}
	return nil
}

func (o *Orchestrator) setProgress(current, total int, label string) {
	o.mu.Lock()
	o.progress = models.Progress{Current: current, Total: total, Label: label}
	o.mu.Unlock()
}

func (o *Orchestrator) countSlots() int {
	n := 0
	for _, s := range o.store.Snapshot() {
		n += len(s.Images)
	}
	return n
}

// cancelErr maps a context error from an interrupted sleep onto the
// cancellation kind the rest of the pipeline reports.
func cancelErr(err error) error {
	return services.WrapGenError(services.KindUserCancelled, err, "generation cancelled")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
