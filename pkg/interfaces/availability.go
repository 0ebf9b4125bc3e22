package interfaces

import (
	"context"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// AvailabilityPort определяет интерфейс поставщика снимков наличия.
// Снимок приходит из внешнего слоя сбора данных; частичные или
// отсутствующие данные трактуются как "неизвестно", а не как отсутствие товара.
type AvailabilityPort interface {
	// Snapshot возвращает снимок наличия для товара источника
	Snapshot(ctx context.Context, sourceID string) (*models.AvailabilitySnapshot, error)
}
