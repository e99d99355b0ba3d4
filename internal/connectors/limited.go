package connectors

import (
	"context"
	"fmt"

	"github.com/xela07ax/netchange-gateway/internal/domain"
	"golang.org/x/time/rate"
)

// LimitedClient оборачивает DeviceAPI общим token-bucket лимитером.
// Один экземпляр лимитера на организацию: бюджет глобальный и делится
// между всеми типами вызовов (резолв, превью, apply, verify).
// Ожидание токена — единственная точка приостановки пайплайна.
type LimitedClient struct {
	next    DeviceAPI
	limiter *rate.Limiter
}

// NewLimiter собирает лимитер под бюджет удаленного API:
// устойчивая скорость rps с burst-допуском на стартовое окно.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func NewLimitedClient(next DeviceAPI, limiter *rate.Limiter) *LimitedClient {
	return &LimitedClient{next: next, limiter: limiter}
}

// Limiter отдает разделяемый лимитер (исполнитель использует его же)
func (c *LimitedClient) Limiter() *rate.Limiter { return c.limiter }

func (c *LimitedClient) Read(ctx context.Context, ref ResourceRef) (domain.State, error) {
	// Wait блокирует до появления токена. RateLimitExceeded наружу не
	// выходит никогда — лимитер поглощает его приостановкой.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return c.next.Read(ctx, ref)
}

func (c *LimitedClient) Write(ctx context.Context, ref ResourceRef, payload domain.State) (domain.State, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}
	return c.next.Write(ctx, ref, payload)
}
