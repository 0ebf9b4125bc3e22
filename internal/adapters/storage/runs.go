package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// SaveRun сохраняет артефакт запуска. Коллекция append-only:
// строка пишется один раз после завершения запуска и больше не трогается.
func (r *ListingStorage) SaveRun(ctx context.Context, run *models.SyncRun) error {
	executor := r.getExecutor(ctx)

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run artifact: %w", err)
	}

	query := `
		INSERT INTO marketsync.sync_runs (id, started_at, finished_at, status, payload)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = executor.Exec(ctx, query, run.ID, run.StartedAt, run.FinishedAt, run.Status, payload)
	if err != nil {
		return fmt.Errorf("failed to save run artifact: %w", err)
	}
	return nil
}

// ListRuns возвращает последние артефакты запусков, новые первыми
func (r *ListingStorage) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	executor := r.getExecutor(ctx)

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT payload
		FROM marketsync.sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := executor.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run artifact: %w", err)
		}
		var run models.SyncRun
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run artifact: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}
