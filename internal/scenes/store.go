// Package scenes holds the in-memory scene collection — the single source of
// truth read and written by the pipeline and surfaced to the API. Scenes live
// only for the current session; runs and jobs are what get persisted.
package scenes

import (
	"fmt"
	"sync"

	"github.com/norell/slidecast/internal/models"
)

type Store struct {
	mu     sync.RWMutex
	scenes []*models.Scene
}

func NewStore() *Store {
	return &Store{}
}

// Replace installs a fresh batch of scenes from story texts, destroying any
// previous batch. IDs are 1-based ordinals in narrative order.
func (st *Store) Replace(descriptions []string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.scenes = make([]*models.Scene, len(descriptions))
	for i, d := range descriptions {
		st.scenes[i] = &models.Scene{ID: i + 1, Description: d}
	}
}

// Reset destroys the current batch.
func (st *Store) Reset() {
	st.mu.Lock()
	st.scenes = nil
	st.mu.Unlock()
}

// Count returns the number of scenes.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.scenes)
}

// Snapshot returns deep copies of all scenes in id order. The assembler and
// the API read snapshots so in-flight mutations never race with them.
func (st *Store) Snapshot() []models.Scene {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]models.Scene, len(st.scenes))
	for i, s := range st.scenes {
		out[i] = copyScene(s)
	}
	return out
}

// Get returns a deep copy of one scene.
func (st *Store) Get(id int) (models.Scene, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, err := st.locked(id)
	if err != nil {
		return models.Scene{}, err
	}
	return copyScene(s), nil
}

// Update applies a partial mutation to one scene by id, leaving the others
// untouched. The callback runs under the store lock — keep it fast.
func (st *Store) Update(id int, fn func(*models.Scene)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.locked(id)
	if err != nil {
		return err
	}
	fn(s)
	return nil
}

// SetDescription replaces a scene's text. Edited text invalidates any
// previously attached narration — the audio must be regenerated.
func (st *Store) SetDescription(id int, text string) error {
	return st.Update(id, func(s *models.Scene) {
		s.Description = text
		s.Audio = nil
	})
}

// SetPrompts installs a new prompt list and re-initializes the image slots to
// empty, one per prompt. All previously attached images are discarded.
func (st *Store) SetPrompts(id int, prompts []string) error {
	return st.Update(id, func(s *models.Scene) {
		s.Prompts = prompts
		s.Images = make([]models.ImageSlot, len(prompts))
	})
}

// SetImage fills one slot. Slots fill independently; siblings are untouched.
func (st *Store) SetImage(id, slot int, data []byte, mimeType string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.locked(id)
	if err != nil {
		return err
	}
	if slot < 0 || slot >= len(s.Images) {
		return fmt.Errorf("scene %d has no image slot %d", id, slot)
	}
	s.Images[slot] = models.ImageSlot{Data: data, MimeType: mimeType}
	return nil
}

// ClearImages blanks every slot back to empty while preserving slot count.
func (st *Store) ClearImages(id int) error {
	return st.Update(id, func(s *models.Scene) {
		s.Images = make([]models.ImageSlot, len(s.Prompts))
	})
}

// SetAudio attaches narration PCM to a scene.
func (st *Store) SetAudio(id int, pcm []byte) error {
	return st.Update(id, func(s *models.Scene) {
		s.Audio = pcm
	})
}

// TryBegin claims a scene's busy flag for one generation category. It
// returns false if that category is already running for the scene — the
// flags are the advisory locks keeping the orchestrator and manual per-scene
// regeneration from fighting over the same scene.
func (st *Store) TryBegin(id int, cat models.BusyCategory) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.locked(id)
	if err != nil {
		return false, err
	}

	flag := busyFlag(s, cat)
	if *flag {
		return false, nil
	}
	*flag = true
	return true, nil
}

// End releases a scene's busy flag for one category.
func (st *Store) End(id int, cat models.BusyCategory) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, err := st.locked(id); err == nil {
		*busyFlag(s, cat) = false
	}
}

// ForceClearBusy clears every busy flag on every scene. Called on
// cancellation so no scene is left in a stuck loading state.
func (st *Store) ForceClearBusy() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, s := range st.scenes {
		s.BusyPrompts = false
		s.BusyImages = false
		s.BusyAudio = false
	}
}

func (st *Store) locked(id int) (*models.Scene, error) {
	if id < 1 || id > len(st.scenes) {
		return nil, fmt.Errorf("scene %d not found", id)
	}
	return st.scenes[id-1], nil
}

func busyFlag(s *models.Scene, cat models.BusyCategory) *bool {
	switch cat {
	case models.BusyPrompts:
		return &s.BusyPrompts
	case models.BusyImages:
		return &s.BusyImages
	default:
		return &s.BusyAudio
	}
}

func copyScene(s *models.Scene) models.Scene {
	out := *s
	out.Prompts = append([]string(nil), s.Prompts...)
	out.Images = make([]models.ImageSlot, len(s.Images))
	copy(out.Images, s.Images)
	out.Audio = append([]byte(nil), s.Audio...)
	return out
}
