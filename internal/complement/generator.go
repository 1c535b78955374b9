package complement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/domain"
)

const complementSystemPrompt = `You are an e-commerce product relationship expert who analyzes complementary relationships between products.
Given a product, infer the categories of other products that are COMPLEMENTARY to it, not similar.

Notes:
1. A complementary product is one a customer would use TOGETHER with the given product after buying it.
2. Do not return substitutes (the complement of swimwear is sunscreen, not another swimsuit).
3. Consider usage scenarios, accessory needs, and functional pairing.

Output requirements:
- Return category names only, never product names
- Use short category words (e.g. suncare, beach, accessories)
- At most 5 categories
- Respond with a strict JSON array of strings`

// complementUserPrompt renders the anchor product for the generation call.
func complementUserPrompt(anchor domain.Product) string {
	return fmt.Sprintf(`Product:
Name: %s
Category: %s
Description: %s
Tags: %s

Analyze the usage scenario of this product and infer the categories of COMPLEMENTARY products.

Output format (strict):
["category1", "category2", "category3"]`,
		anchor.Name, anchor.Category, anchor.Description, strings.Join(anchor.Tags, ", "))
}

// Generation parameters: low temperature leans toward deterministic output.
const (
	complementTemperature = 0.3
	complementMaxTokens   = 256
)

// LLMGenerator infers complementary categories for an anchor product via the
// chat service.
type LLMGenerator struct {
	chat    domain.ChatClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMGenerator creates a generator with a per-call timeout.
func NewLLMGenerator(chat domain.ChatClient, timeout time.Duration, logger *zap.Logger) *LLMGenerator {
	return &LLMGenerator{chat: chat, timeout: timeout, logger: logger}
}

// Complements asks the chat service for up to 5 complementary categories and
// parses the response defensively. A failed call or an unparseable response
// is an error; the cache degrades to the static table.
func (g *LLMGenerator) Complements(ctx context.Context, anchor domain.Product) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	content, err := g.chat.Generate(ctx,
		complementSystemPrompt, complementUserPrompt(anchor),
		complementTemperature, complementMaxTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("generate complements: %w", err)
	}

	cats, ok := parseCategories(content)
	if !ok {
		g.logger.Warn("Unparseable complement response",
			zap.String("anchor_id", anchor.ID),
			zap.String("content", content),
		)
		return nil, fmt.Errorf("parse complements: %w", domain.ErrMalformedResponse)
	}
	return cats, nil
}
