package generation

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles calls to the wrapped client to a steady request rate.
type Limited struct {
	Client
	limiter *rate.Limiter
}

// NewLimited wraps client with a token-bucket limiter. A non-positive rps
// returns client unchanged.
func NewLimited(client Client, rps float64, burst int) Client {
	if rps <= 0 {
		return client
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{Client: client, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Client.Generate(ctx, req)
}
