package llm

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimitedClient struct {
	next    StructuredClient
	limiter *rate.Limiter
}

// RateLimited throttles next to perSecond requests. A non-positive rate
// returns next unchanged.
func RateLimited(next StructuredClient, perSecond float64) StructuredClient {
	if perSecond <= 0 || next == nil {
		return next
	}
	return &rateLimitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

func (c *rateLimitedClient) Complete(ctx context.Context, req Request) (Reply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.Complete(ctx, req)
}
