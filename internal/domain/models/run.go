package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus описывает итог одного запуска синхронизации
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounters - счетчики действий за один запуск
type RunCounters struct {
	Paused       int `json:"paused"`
	Reactivated  int `json:"reactivated"`
	PriceUpdated int `json:"price_updated"`
	NoChange     int `json:"no_change"`
	Drift        int `json:"drift"`
	Errors       int `json:"errors"`
}

// SyncRun - артефакт одного запуска оркестратора. После завершения не мутируется.
type SyncRun struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Status     RunStatus   `json:"status"`
	InputCount int         `json:"input_count"`
	Counters   RunCounters `json:"counters"`
	// ProcessedIDs - усеченный список обработанных source_id для аудита
	ProcessedIDs []string `json:"processed_ids"`
	// FatalError заполняется, когда запуск прерван фатальной ошибкой,
	// в отличие от поштучных ошибок в Counters.Errors
	FatalError string `json:"fatal_error,omitempty"`

	auditLimit int
}

// NewSyncRun создает артефакт запуска для inputCount товаров
func NewSyncRun(inputCount, auditLimit int) *SyncRun {
	if auditLimit <= 0 {
		auditLimit = 200
	}
	return &SyncRun{
		ID:         uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		Status:     RunStatusRunning,
		InputCount: inputCount,
		auditLimit: auditLimit,
	}
}

// Track добавляет обработанный идентификатор в аудиторский список, соблюдая его предел
func (r *SyncRun) Track(sourceID string) {
	if len(r.ProcessedIDs) < r.auditLimit {
		r.ProcessedIDs = append(r.ProcessedIDs, sourceID)
	}
}

// Finish помечает запуск завершенным
func (r *SyncRun) Finish() {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = RunStatusCompleted
}

// Fail помечает запуск прерванным с фатальной ошибкой
func (r *SyncRun) Fail(err error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = RunStatusFailed
	if err != nil {
		r.FatalError = err.Error()
	}
}
