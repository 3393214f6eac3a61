package ratelimit

// TierConfig names a set of quotas plus pricing for one provider tier.
// Absent fields (zero value) mean unlimited on that axis, per the data
// model: only MaxConcurrent and the two cost fields are ever legitimately
// zero for a bounded tier, so callers that need to distinguish "zero" from
// "unset" should use pointers at the config-decoding boundary (see
// internal/config) and flatten to this struct afterward.
type TierConfig struct {
	Name       string
	RPM        int
	TPM        int
	RPD        int
	MaxConcurrent int
	DailyQuotaUSD float64
	CostPerMillionInputTokens  float64
	CostPerMillionOutputTokens float64
}

// Admits reports whether tier t admits everything tier other admits, axis by
// axis, where 0 means unlimited (admits everything). Used to detect a strict
// upgrade when adapting to response headers.
func (t TierConfig) Admits(other TierConfig) bool {
	axisAdmits := func(mine, theirs int) bool {
		if mine == 0 {
			return true
		}
		if theirs == 0 {
			return false
		}
		return mine >= theirs
	}
	return axisAdmits(t.RPM, other.RPM) &&
		axisAdmits(t.TPM, other.TPM) &&
		axisAdmits(t.RPD, other.RPD) &&
		axisAdmits(t.MaxConcurrent, other.MaxConcurrent)
}

// BudgetConfig scales a TierConfig's absolute limits by per-axis
// multipliers clamped to (0, 1], used by narrative carousels.
type BudgetConfig struct {
	RPM float64
	TPM float64
	RPD float64
}

func clamp01(m float64) float64 {
	if m <= 0 {
		return 1
	}
	if m > 1 {
		return 1
	}
	return m
}

func (b BudgetConfig) ApplyRPM(n int) int { return applyMultiplier(n, b.RPM) }
func (b BudgetConfig) ApplyTPM(n int) int { return applyMultiplier(n, b.TPM) }
func (b BudgetConfig) ApplyRPD(n int) int { return applyMultiplier(n, b.RPD) }

func applyMultiplier(n int, m float64) int {
	if n == 0 {
		return 0
	}
	return int(float64(n) * clamp01(m))
}

// Merge composes two budgets so that applying the merged budget is
// equivalent to taking the minimum of applying each separately, satisfying
// the budget composition law: merge(b1,b2).ApplyRPM(n) == min(b1.ApplyRPM(n), b2.ApplyRPM(n)).
func (b BudgetConfig) Merge(other BudgetConfig) BudgetConfig {
	return BudgetConfig{
		RPM: min(clamp01(b.RPM), clamp01(other.RPM)),
		TPM: min(clamp01(b.TPM), clamp01(other.TPM)),
		RPD: min(clamp01(b.RPD), clamp01(other.RPD)),
	}
}

// HeaderDialect identifies which rate-limit header family a provider uses.
type HeaderDialect int

const (
	DialectUnknown HeaderDialect = iota
	DialectXRateLimit
	DialectAnthropic
	DialectRetryAfter
)

// HeaderSnapshot is the subset of response headers the limiter inspects to
// infer the active tier, independent of provider wire format.
type HeaderSnapshot struct {
	Dialect        HeaderDialect
	LimitRequests  int
	LimitTokens    int
	RemainingRPM   int
	RemainingTPM   int
	RetryAfterSecs int
}

// InferTier matches a header snapshot against a table of known tiers for a
// provider, returning the best (highest RPM) match whose RPM/TPM ceiling
// equals the header-reported limit. Returns false if no match is found.
func InferTier(snapshot HeaderSnapshot, known []TierConfig) (TierConfig, bool) {
	var best TierConfig
	found := false
	for _, tier := range known {
		matchesRPM := snapshot.LimitRequests == 0 || tier.RPM == snapshot.LimitRequests
		matchesTPM := snapshot.LimitTokens == 0 || tier.TPM == snapshot.LimitTokens
		if matchesRPM && matchesTPM {
			if !found || tier.RPM > best.RPM {
				best = tier
				found = true
			}
		}
	}
	return best, found
}
