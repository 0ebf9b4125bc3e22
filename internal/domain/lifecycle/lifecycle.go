package lifecycle

import (
	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// Action - действие, которое оркестратор должен выполнить на маркетплейсе
type Action string

const (
	ActionNone       Action = "none"
	ActionPause      Action = "pause"
	ActionReactivate Action = "reactivate"
)

// Decide вычисляет следующее состояние публикации по снимку наличия.
// Функция чистая и детерминированная: одинаковая пара (состояние, снимок)
// всегда дает одинаковый результат.
//
// Неизвестный срок доставки (nil) считается НЕ прошедшим порог:
// неизвестность никогда не реактивирует приостановленный товар.
func Decide(current models.ListingStatus, snap models.AvailabilitySnapshot, maxDeliveryDays int) (models.ListingStatus, Action) {
	deliveryOK := snap.DeliveryDays != nil && *snap.DeliveryDays <= maxDeliveryDays

	switch current {
	case models.StatusActive:
		if !snap.InStock || !deliveryOK {
			return models.StatusPaused, ActionPause
		}
		return models.StatusActive, ActionNone

	case models.StatusPaused:
		if snap.InStock && deliveryOK {
			return models.StatusActive, ActionReactivate
		}
		return models.StatusPaused, ActionNone

	default:
		// Закрытые карточки меняются только вручную
		return current, ActionNone
	}
}
