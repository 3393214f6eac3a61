package driver

import (
	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// base holds the fields shared by every concrete driver: the account tier
// observed from response headers (or configured statically) and the model
// name this instance targets. Concrete drivers embed it.
type base struct {
	provider string
	model    string
	tier     ratelimit.TierConfig
	caps     Capabilities
}

func (b *base) ProviderName() string          { return b.provider }
func (b *base) ModelName() string             { return b.model }
func (b *base) RateLimits() ratelimit.TierConfig { return b.tier }
func (b *base) Capabilities() Capabilities    { return b.caps }

// estimateTokens is the shared fallback token counter used by drivers whose
// SDK does not expose a tokenizer: roughly four characters per token, which
// is the same heuristic the rate limiter's TPM gate tolerates being wrong
// about in either direction since AdaptToHeaders corrects the tier from
// observed response headers.
func estimateTokens(req models.GenerateRequest) int {
	chars := 0
	for _, m := range req.Messages {
		for _, in := range m.Content {
			chars += len(in.Text)
		}
	}
	if req.MaxTokens > 0 {
		chars += req.MaxTokens * 4
	}
	return chars/4 + 1
}
