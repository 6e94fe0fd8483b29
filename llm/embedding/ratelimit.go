package embedding

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/graphflow/types"
)

// RateLimited 在 Provider 外层做客户端限流, 避免并发扇出打爆上游配额.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited 以每秒 rps 次请求, 突发 burst 创建限流包装.
func NewRateLimited(inner Provider, rps float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) Dimensions() int { return r.inner.Dimensions() }

func (r *RateLimited) EmbedQuery(ctx context.Context, text string) (types.Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedQuery(ctx, text)
}

func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.EmbedBatch(ctx, texts)
}
