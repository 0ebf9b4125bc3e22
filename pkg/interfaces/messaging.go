package interfaces

import "context"

// NotifierPort определяет интерфейс для отправки структурированных событий
// во внешнюю систему уведомлений. Доставка событий подписчикам - зона
// ответственности коллаборатора, движок синхронизации их только производит.
type NotifierPort interface {
	// Publish публикует сообщение в указанную тему
	Publish(ctx context.Context, topic string, message []byte) error

	// Close закрывает соединение
	Close() error
}
