package recommend

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/metrics"
)

const normalizeSystemPrompt = `You are an e-commerce search understanding assistant who converts user queries into standard product vocabulary.

Tasks:
1. Translate non-English queries into English.
2. Convert colloquial or fuzzy phrasing into a standard product name or category.
3. Stay terse: output the converted keywords only, no explanation.

Examples:
- "something for my feet when running" -> "running shoes"
- "i wanna buy swimwear" -> "swimsuit"
- "clock for my wrist" -> "watch"
- "thing that makes coffee" -> "coffee maker"

Output requirements:
- Output the normalized keywords only
- At most 10 words
- No quotes, punctuation, or explanation`

const (
	normalizeTemperature = 0.1
	normalizeMaxTokens   = 50
)

// normalizeQuery asks the chat service to canonicalize the raw query.
// Always best-effort: the normalized form is accepted only when non-empty,
// under the length ceiling, and different from the input; any failure keeps
// the original query.
func (s *Service) normalizeQuery(ctx context.Context, query string) string {
	if s.cfg.NormalizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NormalizeTimeout)
		defer cancel()
	}

	user := "User query: " + query + "\nNormalized output:"
	out, err := s.chat.Generate(ctx, normalizeSystemPrompt, user, normalizeTemperature, normalizeMaxTokens)
	if err != nil {
		s.logger.Warn("Query normalization failed, keeping original query", zap.Error(err))
		metrics.QueryNormalizationsTotal.WithLabelValues("failed").Inc()
		return query
	}

	normalized := strings.TrimSpace(out)
	if normalized == "" || normalized == query || utf8.RuneCountInString(normalized) > s.cfg.NormalizedMaxLen {
		metrics.QueryNormalizationsTotal.WithLabelValues("unchanged").Inc()
		return query
	}

	s.logger.Info("Query normalized",
		zap.String("query", query),
		zap.String("normalized", normalized),
	)
	metrics.QueryNormalizationsTotal.WithLabelValues("normalized").Inc()
	return normalized
}
