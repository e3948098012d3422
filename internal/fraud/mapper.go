// Package fraud turns fraud-service recommendations into purchase advice.
package fraud

import "github.com/yourorg/purchase-gateway/internal/purchase"

// Recommendation codes returned by the fraud service.
const (
	CodeBlacklist      = 100
	CodeBlacklistEmail = 101
	CodeBlacklistIP    = 102
	CodeCaptcha        = 300
	CodeForceThreeD    = 400
	CodeForceThreeDBin = 401
	CodeDefault        = 1000
)

// Recommendation is a single fraud-service verdict.
type Recommendation struct {
	Severity string `json:"severity"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
}

// Config lists the codes recognised for each signal.
type Config struct {
	BlacklistCodes   []int
	CaptchaCodes     []int
	ForceThreeDCodes []int
}

// DefaultConfig returns the standard code table.
func DefaultConfig() Config {
	return Config{
		BlacklistCodes:   []int{CodeBlacklist, CodeBlacklistEmail, CodeBlacklistIP},
		CaptchaCodes:     []int{CodeCaptcha},
		ForceThreeDCodes: []int{CodeForceThreeD, CodeForceThreeDBin},
	}
}

// Mapper is the FraudIntegrationMapper. It has no side effects.
type Mapper struct {
	blacklist   map[int]struct{}
	captcha     map[int]struct{}
	forceThreeD map[int]struct{}
}

func toSet(codes []int) map[int]struct{} {
	s := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// NewMapper builds a mapper from cfg; an empty Config uses DefaultConfig.
func NewMapper(cfg Config) *Mapper {
	if len(cfg.BlacklistCodes) == 0 && len(cfg.CaptchaCodes) == 0 && len(cfg.ForceThreeDCodes) == 0 {
		cfg = DefaultConfig()
	}
	return &Mapper{
		blacklist:   toSet(cfg.BlacklistCodes),
		captcha:     toSet(cfg.CaptchaCodes),
		forceThreeD: toSet(cfg.ForceThreeDCodes),
	}
}

func (m *Mapper) matches(recs []Recommendation, set map[int]struct{}) bool {
	for _, r := range recs {
		if _, ok := set[r.Code]; ok {
			return true
		}
	}
	return false
}

// Signals maps recommendations to a single signal: blacklist beats captcha
// beats force-3DS; anything else is the default (allow) advice.
func (m *Mapper) Signals(recs []Recommendation) purchase.Signals {
	switch {
	case m.matches(recs, m.blacklist):
		return purchase.Signals{Blacklisted: true}
	case m.matches(recs, m.captcha):
		return purchase.Signals{CaptchaAdvised: true}
	case m.matches(recs, m.forceThreeD):
		return purchase.Signals{ForceThreeD: true}
	default:
		return purchase.Signals{}
	}
}

// MapInit computes Init-phase advice.
func (m *Mapper) MapInit(advice purchase.FraudAdvice, recs []Recommendation) purchase.FraudAdvice {
	return advice.WithInit(m.Signals(recs))
}

// MapProcess computes Process-phase advice on top of a copy of the Init advice.
func (m *Mapper) MapProcess(advice purchase.FraudAdvice, recs []Recommendation) (purchase.FraudAdvice, error) {
	return advice.WithProcess(m.Signals(recs))
}
