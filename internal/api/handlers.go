package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/norell/slidecast/internal/db"
	"github.com/norell/slidecast/internal/export"
	"github.com/norell/slidecast/internal/models"
	"github.com/norell/slidecast/internal/pipeline"
	"github.com/norell/slidecast/internal/queue"
	"github.com/norell/slidecast/internal/scenes"
	"github.com/norell/slidecast/internal/services"
)

type Handler struct {
	db           *db.DB
	queue        *queue.Queue
	store        *scenes.Store
	orchestrator *pipeline.Orchestrator
	gemini       *services.GeminiService
}

func NewHandler(database *db.DB, q *queue.Queue, store *scenes.Store, orch *pipeline.Orchestrator, gemini *services.GeminiService) *Handler {
	return &Handler{
		db:           database,
		queue:        q,
		store:        store,
		orchestrator: orch,
		gemini:       gemini,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateRun handles POST /v1/runs. Queuing a new run implicitly cancels the
// active one: the orchestrator tears down the old run when the worker picks
// this one up.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Topic == "" {
		respondError(w, http.StatusBadRequest, "Topic is required")
		return
	}
	if !h.gemini.HasCredential() {
		respondError(w, http.StatusUnauthorized, "No API key configured. Set one via PUT /v1/credential")
		return
	}

	// Set defaults
	sceneCount := 0 // backend chooses
	if req.SceneCount != nil {
		sceneCount = *req.SceneCount
	}
	targetLength := 300
	if req.TargetLength != nil {
		targetLength = *req.TargetLength
	}
	narration := true
	if req.Narration != nil {
		narration = *req.Narration
	}

	run := &models.Run{
		ID:           uuid.New(),
		Topic:        req.Topic,
		SceneCount:   sceneCount,
		TargetLength: targetLength,
		Narration:    narration,
		VoiceID:      req.VoiceID,
		VoiceStyle:   req.VoiceStyle,
		Status:       models.RunStatusQueued,
	}

	if err := h.db.CreateRun(r.Context(), run); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	job := &models.Job{
		ID:     uuid.New(),
		RunID:  run.ID,
		Type:   "run_pipeline",
		Status: models.JobStatusQueued,
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	qjob := &queue.Job{ID: job.ID, Type: job.Type, RunID: run.ID}
	if err := h.queue.Enqueue(r.Context(), queue.QueueRunPipeline, qjob); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRunResponse{
		RunID:  run.ID,
		Status: run.Status,
	})
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := h.db.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.db.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	resp := models.RunResponse{Run: *run}
	switch run.Status {
	case models.RunStatusStory, models.RunStatusAudio, models.RunStatusPrompts, models.RunStatusImages:
		p := h.orchestrator.Progress()
		resp.Progress = &p
	}
	respondJSON(w, http.StatusOK, resp)
}

// CancelRun handles POST /v1/runs/{id}/cancel. Cancellation is a request;
// the run actually stops at its next checkpoint.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	if !h.orchestrator.Cancel(id) {
		respondError(w, http.StatusConflict, "Run is not active")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// ListScenes handles GET /v1/scenes
func (h *Handler) ListScenes(w http.ResponseWriter, r *http.Request) {
	snapshot := h.store.Snapshot()
	views := make([]models.SceneView, len(snapshot))
	for i := range snapshot {
		views[i] = snapshot[i].View()
	}
	respondJSON(w, http.StatusOK, views)
}

// GetSceneImage handles GET /v1/scenes/{id}/images/{slot}
func (h *Handler) GetSceneImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sceneID(w, r)
	if !ok {
		return
	}
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid image slot")
		return
	}

	scene, err := h.store.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}
	if slot < 0 || slot >= len(scene.Images) || !scene.Images[slot].Filled() {
		respondError(w, http.StatusNotFound, "Image not available")
		return
	}

	img := scene.Images[slot]
	w.Header().Set("Content-Type", img.MimeType)
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

// UpdateSceneDescription handles PUT /v1/scenes/{id}/description.
// Editing a scene's text drops its narration; the audio no longer matches.
func (h *Handler) UpdateSceneDescription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sceneID(w, r)
	if !ok {
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Description == "" {
		respondError(w, http.StatusBadRequest, "Description is required")
		return
	}

	if err := h.store.SetDescription(id, req.Description); err != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}
	scene, _ := h.store.Get(id)
	respondJSON(w, http.StatusOK, scene.View())
}

// RegenerateScenePrompts handles POST /v1/scenes/{id}/prompts
func (h *Handler) RegenerateScenePrompts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sceneID(w, r)
	if !ok {
		return
	}

	started, err := h.orchestrator.RegeneratePrompts(r.Context(), id)
	h.respondSceneOp(w, id, started, err)
}

// RegenerateSceneImages handles POST /v1/scenes/{id}/images
func (h *Handler) RegenerateSceneImages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sceneID(w, r)
	if !ok {
		return
	}

	started, err := h.orchestrator.RegenerateImages(r.Context(), id)
	h.respondSceneOp(w, id, started, err)
}

// RegenerateSceneAudio handles POST /v1/scenes/{id}/audio
func (h *Handler) RegenerateSceneAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sceneID(w, r)
	if !ok {
		return
	}

	var req struct {
		VoiceID    string `json:"voice_id"`
		VoiceStyle string `json:"voice_style"`
	}
	// Body is optional; defaults apply when absent
	_ = json.NewDecoder(r.Body).Decode(&req)

	started, err := h.orchestrator.RegenerateAudio(r.Context(), id, req.VoiceID, req.VoiceStyle)
	h.respondSceneOp(w, id, started, err)
}

// ClearSceneImages handles DELETE /v1/scenes/{id}/images
func (h *Handler) ClearSceneImages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sceneID(w, r)
	if !ok {
		return
	}

	if err := h.store.ClearImages(id); err != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}
	scene, _ := h.store.Get(id)
	respondJSON(w, http.StatusOK, scene.View())
}

// AssembleVideo handles POST /v1/assemble
func (h *Handler) AssembleVideo(w http.ResponseWriter, r *http.Request) {
	var req models.AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	run, err := h.db.GetRun(r.Context(), req.RunID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if h.store.Count() == 0 {
		respondError(w, http.StatusConflict, "No scenes to assemble")
		return
	}

	job := &models.Job{
		ID:     uuid.New(),
		RunID:  run.ID,
		Type:   "assemble_video",
		Status: models.JobStatusQueued,
	}
	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	data := map[string]interface{}{}
	if req.Orientation != nil {
		data["orientation"] = *req.Orientation
	}
	if req.Quality != nil {
		data["quality"] = *req.Quality
	}
	if req.Animate != nil {
		data["animate"] = *req.Animate
	}

	qjob := &queue.Job{ID: job.ID, Type: job.Type, RunID: run.ID, Data: data}
	if err := h.queue.Enqueue(r.Context(), queue.QueueAssembleVideo, qjob); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ExportAssets handles GET /v1/export — streams a zip of every scene's
// script, prompts, images and narration.
func (h *Handler) ExportAssets(w http.ResponseWriter, r *http.Request) {
	snapshot := h.store.Snapshot()
	if len(snapshot) == 0 {
		respondError(w, http.StatusConflict, "No scenes to export")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="slidecast_assets.zip"`)
	w.WriteHeader(http.StatusOK)

	if err := export.WriteArchive(w, snapshot); err != nil {
		// Headers are gone; all we can do is log via the middleware chain.
		return
	}
}

// SetCredential handles PUT /v1/credential
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.APIKey == "" {
		respondError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	h.gemini.SetCredential(req.APIKey)
	respondJSON(w, http.StatusOK, map[string]bool{"configured": true})
}

// GetCredential handles GET /v1/credential — reports presence only, never
// the key itself.
func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"configured": h.gemini.HasCredential()})
}

// ClearCredential handles DELETE /v1/credential
func (h *Handler) ClearCredential(w http.ResponseWriter, r *http.Request) {
	h.gemini.ClearCredential()
	respondJSON(w, http.StatusOK, map[string]bool{"configured": false})
}

func (h *Handler) sceneID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, "Invalid scene ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondSceneOp(w http.ResponseWriter, id int, started bool, err error) {
	if err != nil {
		respondGenError(w, err)
		return
	}
	if !started {
		respondError(w, http.StatusConflict, "Scene is busy with the same operation")
		return
	}
	scene, getErr := h.store.Get(id)
	if getErr != nil {
		respondError(w, http.StatusNotFound, "Scene not found")
		return
	}
	respondJSON(w, http.StatusOK, scene.View())
}

// respondGenError maps backend error kinds onto HTTP statuses.
func respondGenError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch services.KindOf(err) {
	case services.KindInvalidCredential:
		status = http.StatusUnauthorized
	case services.KindRateLimited:
		status = http.StatusTooManyRequests
	case services.KindContentBlocked:
		status = http.StatusUnprocessableEntity
	case services.KindUserCancelled:
		status = http.StatusConflict
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
