package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий, которые производит движок синхронизации.
// Доставка получателям - зона ответственности внешнего сервиса уведомлений.
const (
	ListingPausedEvent      = "listing_paused"
	ListingReactivatedEvent = "listing_reactivated"
	PriceChangedEvent       = "price_changed"
	DriftDetectedEvent      = "drift_detected"
)

// SyncEvent - структурированное событие одного действия синхронизации
type SyncEvent struct {
	ID         string                 `json:"id"`
	EventType  string                 `json:"event_type"`
	SourceID   string                 `json:"source_id"`
	GlobalID   string                 `json:"global_id"`
	RunID      string                 `json:"run_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewSyncEvent создает событие с заполненными служебными полями
func NewSyncEvent(eventType, sourceID, globalID, runID string, payload map[string]interface{}) *SyncEvent {
	return &SyncEvent{
		ID:         uuid.New().String(),
		EventType:  eventType,
		SourceID:   sourceID,
		GlobalID:   globalID,
		RunID:      runID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
