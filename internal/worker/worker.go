// Package worker consumes queued jobs: full generation runs and video
// assembly. Generation is single-flight — the orchestrator cancels any
// active run when a new one starts — so each queue gets one consumer.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/norell/slidecast/internal/assembly"
	"github.com/norell/slidecast/internal/db"
	"github.com/norell/slidecast/internal/models"
	"github.com/norell/slidecast/internal/pipeline"
	"github.com/norell/slidecast/internal/queue"
	"github.com/norell/slidecast/internal/scenes"
	"github.com/norell/slidecast/internal/services"
)

type Worker struct {
	db           *db.DB
	queue        *queue.Queue
	store        *scenes.Store
	orchestrator *pipeline.Orchestrator
	assembler    *assembly.Assembler
	slideSeconds float64
}

func New(
	database *db.DB,
	q *queue.Queue,
	store *scenes.Store,
	orch *pipeline.Orchestrator,
	asm *assembly.Assembler,
	slideSeconds float64,
) *Worker {
	return &Worker{
		db:           database,
		queue:        q,
		store:        store,
		orchestrator: orch,
		assembler:    asm,
		slideSeconds: slideSeconds,
	}
}

// Start begins processing jobs from both queues until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	log.Println("Worker started")

	go w.processQueue(ctx, queue.QueueRunPipeline, w.handleRunPipeline)
	go w.processQueue(ctx, queue.QueueAssembleVideo, w.handleAssembleVideo)

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job %s (type: %s, run: %s)", job.ID, job.Type, job.RunID)

			if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
				log.Printf("Failed to update job status: %v", err)
			}

			if err := handler(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.ID, err)
				w.db.UpdateJobError(ctx, job.ID, err.Error())
			} else {
				log.Printf("Job %s completed successfully", job.ID)
				w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded)
			}
		}
	}
}

// handleRunPipeline drives a full generation run and records its outcome.
// A cancelled run is not a job failure: the run row is marked cancelled and
// the job finishes clean.
func (w *Worker) handleRunPipeline(ctx context.Context, job *queue.Job) error {
	run, err := w.db.GetRun(ctx, job.RunID)
	if err != nil {
		return err
	}

	err = w.orchestrator.Execute(ctx, run, func(status models.RunStatus) {
		if dbErr := w.db.UpdateRunStatus(ctx, run.ID, status); dbErr != nil {
			log.Printf("Failed to update run status: %v", dbErr)
		}
	})

	if err != nil {
		if services.IsKind(err, services.KindUserCancelled) {
			if dbErr := w.db.UpdateRunStatus(ctx, run.ID, models.RunStatusCancelled); dbErr != nil {
				log.Printf("Failed to mark run cancelled: %v", dbErr)
			}
			return nil
		}
		if dbErr := w.db.UpdateRunError(ctx, run.ID, err.Error()); dbErr != nil {
			log.Printf("Failed to record run error: %v", dbErr)
		}
		return err
	}

	return w.db.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted)
}

// handleAssembleVideo renders the current scene collection into the final
// video for a run.
func (w *Worker) handleAssembleVideo(ctx context.Context, job *queue.Job) error {
	run, err := w.db.GetRun(ctx, job.RunID)
	if err != nil {
		return err
	}

	if dbErr := w.db.UpdateRunStatus(ctx, run.ID, models.RunStatusAssembling); dbErr != nil {
		log.Printf("Failed to update run status: %v", dbErr)
	}

	opts := assembly.Options{
		Orientation: dataString(job, "orientation"),
		Quality:     dataString(job, "quality"),
		Animate:     dataBool(job, "animate"),
	}

	slides := assembly.BuildSlides(w.store.Snapshot(), w.slideSeconds)
	videoPath, err := w.assembler.Assemble(ctx, run.Topic, slides, opts)
	if err != nil {
		if dbErr := w.db.UpdateRunError(ctx, run.ID, err.Error()); dbErr != nil {
			log.Printf("Failed to record run error: %v", dbErr)
		}
		return err
	}

	if err := w.db.UpdateRunVideoPath(ctx, run.ID, videoPath); err != nil {
		return err
	}
	return w.db.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted)
}

func dataString(job *queue.Job, key string) string {
	if v, ok := job.Data[key].(string); ok {
		return v
	}
	return ""
}

func dataBool(job *queue.Job, key string) bool {
	if v, ok := job.Data[key].(bool); ok {
		return v
	}
	return false
}
