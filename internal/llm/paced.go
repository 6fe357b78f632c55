package llm

import (
	"context"

	"golang.org/x/time/rate"
)

type pacedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// Paced delays each call until the limiter grants a token, so a worker never
// exceeds the backend's request quota on its own.
func Paced(next Provider, limiter *rate.Limiter) Provider {
	if limiter == nil {
		return next
	}
	return &pacedProvider{next: next, limiter: limiter}
}

func (p *pacedProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return p.next.Generate(ctx, req)
}
