// Package detect holds the stateless selector probes used to decide whether a
// page is showing a challenge or the content that lies behind it.
package detect

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// SelectorsPresent queries selectors in order and reports whether any matched.
// It stops at the first match. A failed query counts as no match.
func SelectorsPresent(ctx context.Context, logger *zap.Logger, q dom.Queryable, selectors []string) bool {
	for _, selector := range selectors {
		el, err := q.QuerySelector(ctx, selector)
		if err != nil {
			if logger != nil {
				logger.Debug("Selector query failed", zap.String("selector", selector), zap.Error(err))
			}
			continue
		}
		if el != nil {
			return true
		}
	}
	return false
}

// ExpectedContent reports whether the post-challenge content selector matches.
// An empty selector is never checked and reports false.
func ExpectedContent(ctx context.Context, logger *zap.Logger, q dom.Queryable, selector string) bool {
	if selector == "" {
		return false
	}
	return SelectorsPresent(ctx, logger, q, []string{selector})
}
