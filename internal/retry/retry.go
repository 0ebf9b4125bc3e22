package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy описывает параметры повторов внешнего вызова
type Policy struct {
	MaxAttempts int           // всего попыток, включая первую
	BaseWait    time.Duration // время ожидания перед первым повтором
	MaxWait     time.Duration // верхняя граница ожидания
}

// transientError помечает ошибку как временную: такие ошибки повторяются,
// все остальные пробрасываются сразу. Вся механика повторов живет здесь,
// бизнес-логика остается от нее свободной.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient помечает ошибку как временную (таймаут, 5xx, 429)
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient сообщает, помечена ли ошибка как временная
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do выполняет fn с ограниченным экспоненциальным backoff.
// Повторяются только временные ошибки; отмена контекста прерывает ожидание.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	wait := p.BaseWait
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if p.MaxWait > 0 && wait > p.MaxWait {
			wait = p.MaxWait
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxAttempts, lastErr)
}
