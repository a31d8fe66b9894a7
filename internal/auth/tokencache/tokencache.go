// Package tokencache holds one bearer token per pull-based carrier and
// coalesces concurrent refreshes into a single network fetch.
package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc выполняет сетевой запрос токена. Ошибки уже классифицированы
// вызывающей стороной: битые креденшелы — apperrors.ErrCarrierCredentials
// (фатально для этого перевозчика), остальное — транзиентный upstream.
type FetchFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

const defaultSafetyMargin = 45 * time.Second

type Cache struct {
	fetch  FetchFunc
	margin time.Duration
	now    func() time.Time

	sf singleflight.Group

	mu         sync.Mutex
	token      string
	validUntil time.Time // уже с учётом margin
}

func New(fetch FetchFunc, margin time.Duration) *Cache {
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	return &Cache{fetch: fetch, margin: margin, now: time.Now}
}

// Token возвращает действующий токен, при необходимости запрашивая новый.
// Конкурентные вызовы во время обновления ждут один и тот же исход —
// перевозчик никогда не получает два параллельных token-запроса.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	v, err, _ := c.sf.Do("token", func() (any, error) {
		// Пока мы ждали своей очереди, токен мог уже обновиться.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		tok, expiresIn, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.validUntil = c.now().Add(expiresIn - c.margin)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate сбрасывает токен (перевозчик ответил 401 на рабочий запрос).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.validUntil = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.validUntil) {
		return c.token, true
	}
	return "", false
}
