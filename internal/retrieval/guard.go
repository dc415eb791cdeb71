package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqa-go/internal/errno"
	"docqa-go/internal/model"
)

// guarded 为任意后端加上超时，并把所有失败统一为 ErrRetrievalUnavailable。
type guarded struct {
	approach Approach
	inner    Backend
	timeout  time.Duration
}

// Guard 包装后端：超时或出错时返回包裹了 ErrRetrievalUnavailable 的错误，
// 成功时保证返回非 nil 切片并完成排序截断。
func Guard(approach Approach, inner Backend, timeout time.Duration) Backend {
	return &guarded{approach: approach, inner: inner, timeout: timeout}
}

func (g *guarded) Search(ctx context.Context, query string, identity *model.Identity, topK int) ([]model.SearchResult, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	results, err := g.inner.Search(ctx, query, identity, topK)
	if err != nil {
		if errors.Is(err, errno.ErrRetrievalUnavailable) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s timed out: %w", errno.ErrRetrievalUnavailable, g.approach, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", errno.ErrRetrievalUnavailable, g.approach, err)
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	return Rank(results, topK), nil
}
