package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusStory      RunStatus = "story"
	RunStatusAudio      RunStatus = "audio"
	RunStatusPrompts    RunStatus = "prompts"
	RunStatusImages     RunStatus = "images"
	RunStatusAssembling RunStatus = "assembling"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusCancelled  RunStatus = "cancelled"
	RunStatusFailed     RunStatus = "failed"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// BusyCategory names one of a scene's three independent generation tasks.
// At most one task per category runs for a given scene at any time;
// categories may run concurrently with each other.
type BusyCategory string

const (
	BusyPrompts BusyCategory = "prompts"
	BusyImages  BusyCategory = "images"
	BusyAudio   BusyCategory = "audio"
)

// ImageSlot is one slot in a scene's image sequence. A slot is empty until
// its image is generated; slots fill independently and can be regenerated
// without discarding siblings.
type ImageSlot struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type,omitempty"`
}

// Filled reports whether the slot holds a generated image.
func (s ImageSlot) Filled() bool {
	return len(s.Data) > 0
}

// Scene is one narrative beat with its derived assets. IDs are 1-based
// ordinals assigned at story generation; their order defines both narrative
// order and video slide order.
type Scene struct {
	ID          int      `json:"id"`
	Description string   `json:"description"`
	Prompts     []string `json:"prompts,omitempty"`

	// Images always has the same length as Prompts; regenerating prompts
	// re-initializes it to empty slots of the new length.
	Images []ImageSlot `json:"images,omitempty"`

	// Audio is the scene's narration as raw PCM (24 kHz mono s16le), or nil.
	// Editing Description invalidates it.
	Audio []byte `json:"-"`

	// Busy flags act as advisory locks between the pipeline and manual
	// per-scene regeneration.
	BusyPrompts bool `json:"busy_prompts"`
	BusyImages  bool `json:"busy_images"`
	BusyAudio   bool `json:"busy_audio"`
}

// FilledImageCount returns how many image slots hold data.
func (s *Scene) FilledImageCount() int {
	n := 0
	for _, slot := range s.Images {
		if slot.Filled() {
			n++
		}
	}
	return n
}

// HasAudio reports whether the scene carries narration.
func (s *Scene) HasAudio() bool {
	return len(s.Audio) > 0
}

// Slide is one flattened unit consumed by the video assembler: an image,
// optional narration PCM, and a target duration in seconds. Audio rides only
// the first populated slot of a scene that has narration.
type Slide struct {
	ImageData []byte
	ImageMime string
	AudioPCM  []byte
	Duration  float64
}

// Progress is the orchestrator's (current, total) work counter plus a
// human-readable task label, recomputed at each stage boundary.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label"`
}

// Run is the persisted record of one pipeline run.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	Topic        string     `json:"topic"`
	SceneCount   int        `json:"scene_count"` // 0 = backend chooses
	TargetLength int        `json:"target_length"`
	Narration    bool       `json:"narration"`
	VoiceID      *string    `json:"voice_id,omitempty"`
	VoiceStyle   *string    `json:"voice_style,omitempty"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	VideoPath    *string    `json:"video_path,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Job is the persisted record of one queue job.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	RunID        uuid.UUID  `json:"run_id"`
	Type         string     `json:"type"`
	Status       JobStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DTOs for API requests/responses

type CreateRunRequest struct {
	Topic        string  `json:"topic"`
	SceneCount   *int    `json:"scene_count,omitempty"`   // nil = backend chooses
	TargetLength *int    `json:"target_length,omitempty"` // words, default 300
	Narration    *bool   `json:"narration,omitempty"`     // default true
	VoiceID      *string `json:"voice_id,omitempty"`
	VoiceStyle   *string `json:"voice_style,omitempty"`
}

type CreateRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
}

type RunResponse struct {
	Run
	Progress *Progress `json:"progress,omitempty"`
}

type AssembleRequest struct {
	RunID       uuid.UUID `json:"run_id"`
	Orientation *string   `json:"orientation,omitempty"` // "widescreen" or "tall"
	Quality     *string   `json:"quality,omitempty"`     // "standard" or "high"
	Animate     *bool     `json:"animate,omitempty"`
}

// SceneView is the API projection of a scene — bulky binary payloads are
// replaced by presence markers.
type SceneView struct {
	ID          int      `json:"id"`
	Description string   `json:"description"`
	Prompts     []string `json:"prompts,omitempty"`
	ImagesReady []bool   `json:"images_ready"`
	HasAudio    bool     `json:"has_audio"`
	BusyPrompts bool     `json:"busy_prompts"`
	BusyImages  bool     `json:"busy_images"`
	BusyAudio   bool     `json:"busy_audio"`
}

// View builds the API projection of a scene.
func (s *Scene) View() SceneView {
	ready := make([]bool, len(s.Images))
	for i, slot := range s.Images {
		ready[i] = slot.Filled()
	}
	return SceneView{
		ID:          s.ID,
		Description: s.Description,
		Prompts:     s.Prompts,
		ImagesReady: ready,
		HasAudio:    s.HasAudio(),
		BusyPrompts: s.BusyPrompts,
		BusyImages:  s.BusyImages,
		BusyAudio:   s.BusyAudio,
	}
}
