package marketplace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/gofrs/flock"
	"golang.org/x/oauth2"
)

// TokenManager выдает действующий access-токен маркетплейса.
// Refresh-токен лежит в файле и разделяется несколькими независимыми
// процессами (движок синхронизации и воркеры массовой публикации),
// поэтому обновление идет под межпроцессной файловой блокировкой:
// одновременный refresh из двух процессов инвалидирует токены друг друга.
type TokenManager struct {
	conf             *oauth2.Config
	refreshTokenFile string
	fileLock         *flock.Flock

	mu     sync.Mutex
	cached *oauth2.Token
}

// NewTokenManager создает менеджер токенов
func NewTokenManager(tokenURL, clientID, clientSecret, refreshTokenFile, lockFile string) *TokenManager {
	return &TokenManager{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		refreshTokenFile: refreshTokenFile,
		fileLock:         flock.New(lockFile),
	}
}

// Token возвращает действующий access-токен, при необходимости обновляя его
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.cached.Valid() {
		return m.cached.AccessToken, nil
	}

	locked, err := m.fileLock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("ошибка получения файловой блокировки токена: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("файловая блокировка токена не получена")
	}
	defer m.fileLock.Unlock()

	raw, err := os.ReadFile(m.refreshTokenFile)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения refresh-токена: %w", err)
	}

	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: strings.TrimSpace(string(raw))})
	tok, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && (rerr.Response.StatusCode == 400 || rerr.Response.StatusCode == 401) {
			return "", fmt.Errorf("%w: %v", utils.ErrUnauthorized, err)
		}
		return "", fmt.Errorf("ошибка обновления токена: %w", err)
	}

	m.cached = tok
	return tok.AccessToken, nil
}
