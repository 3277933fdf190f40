package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/norell/slidecast/internal/models"
)

func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (
			id, topic, scene_count, target_length, narration, voice_id, voice_style, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		run.ID, run.Topic, run.SceneCount, run.TargetLength, run.Narration,
		run.VoiceID, run.VoiceStyle, run.Status,
	).Scan(&run.CreatedAt)
}

func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT
			id, topic, scene_count, target_length, narration, voice_id, voice_style,
			status, error_message, video_path, started_at, finished_at, created_at
		FROM runs
		WHERE id = $1
	`

	run := &models.Run{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Topic, &run.SceneCount, &run.TargetLength, &run.Narration,
		&run.VoiceID, &run.VoiceStyle, &run.Status, &run.ErrorMessage,
		&run.VideoPath, &run.StartedAt, &run.FinishedAt, &run.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT
			id, topic, scene_count, target_length, narration, voice_id, voice_style,
			status, error_message, video_path, started_at, finished_at, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		err := rows.Scan(
			&run.ID, &run.Topic, &run.SceneCount, &run.TargetLength, &run.Narration,
			&run.VoiceID, &run.VoiceStyle, &run.Status, &run.ErrorMessage,
			&run.VideoPath, &run.StartedAt, &run.FinishedAt, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

func (db *DB) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus) error {
	now := time.Now()
	query := `UPDATE runs SET status = $1, started_at = COALESCE(started_at, $2) WHERE id = $3`

	if status == models.RunStatusCompleted || status == models.RunStatusFailed || status == models.RunStatusCancelled {
		query = `UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`
	}

	_, err := db.ExecContext(ctx, query, status, now, id)
	return err
}

func (db *DB) UpdateRunError(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE runs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.RunStatusFailed, errorMessage, time.Now(), id)
	return err
}

func (db *DB) UpdateRunVideoPath(ctx context.Context, id uuid.UUID, videoPath string) error {
	query := `UPDATE runs SET video_path = $1 WHERE id = $2`
	_, err := db.ExecContext(ctx, query, videoPath, id)
	return err
}
