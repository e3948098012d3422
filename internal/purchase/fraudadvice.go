package purchase

// Phase selects which step of the purchase a piece of fraud advice belongs to.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseProcess Phase = "process"
)

// Signals are the flags the fraud mapper can raise for one phase.
type Signals struct {
	Blacklisted    bool `json:"blacklisted"`
	CaptchaAdvised bool `json:"captchaAdvised"`
	ForceThreeD    bool `json:"forceThreeD"`
}

// Merge sets every flag raised in other. Flags are never cleared.
func (s Signals) Merge(other Signals) Signals {
	return Signals{
		Blacklisted:    s.Blacklisted || other.Blacklisted,
		CaptchaAdvised: s.CaptchaAdvised || other.CaptchaAdvised,
		ForceThreeD:    s.ForceThreeD || other.ForceThreeD,
	}
}

// IsDefault reports that no flag is raised.
func (s Signals) IsDefault() bool {
	return !s.Blacklisted && !s.CaptchaAdvised && !s.ForceThreeD
}

// FraudAdvice tracks Init and Process advice plus which captcha challenges were
// passed. ProcessCaptchaRaised records that a Process-phase evaluation itself
// advised captcha rather than inheriting the Init flag.
type FraudAdvice struct {
	Init                    Signals `json:"init"`
	Process                 Signals `json:"process"`
	InitComputed            bool    `json:"initComputed"`
	ProcessComputed         bool    `json:"processComputed"`
	InitCaptchaValidated    bool    `json:"initCaptchaValidated"`
	ProcessCaptchaValidated bool    `json:"processCaptchaValidated"`
	ProcessCaptchaRaised    bool    `json:"processCaptchaRaised"`
}

// WithInit records Init-phase signals.
func (a FraudAdvice) WithInit(s Signals) FraudAdvice {
	a.Init = a.Init.Merge(s)
	a.InitComputed = true
	return a
}

// WithProcess seeds Process advice from Init advice and layers s on top.
// It fails when Init advice has not been computed yet.
func (a FraudAdvice) WithProcess(s Signals) (FraudAdvice, error) {
	if !a.InitComputed {
		return a, NewError(KindValidation, "purchase.FraudAdvice.WithProcess", "process advice requires init advice")
	}
	a.Process = a.Process.Merge(a.Init).Merge(s)
	a.ProcessComputed = true
	a.ProcessCaptchaRaised = a.ProcessCaptchaRaised || s.CaptchaAdvised
	return a, nil
}

// Blacklisted reports a blacklist signal in either phase.
func (a FraudAdvice) Blacklisted() bool {
	return a.Init.Blacklisted || a.Process.Blacklisted
}

// ForceThreeD reports whether any phase asked for 3-D Secure.
func (a FraudAdvice) ForceThreeD() bool {
	return a.Init.ForceThreeD || a.Process.ForceThreeD
}

// InitCaptchaRequired is true while an Init captcha was advised and not yet passed.
func (a FraudAdvice) InitCaptchaRequired() bool {
	return a.Init.CaptchaAdvised && !a.InitCaptchaValidated
}

// ProcessCaptchaRequired is true when a session that already had an Init
// captcha requirement is flagged for captcha again by Process advice and has
// not passed the Process captcha yet. A Process captcha flag on a session
// that never needed an Init captcha is recorded but does not step up.
func (a FraudAdvice) ProcessCaptchaRequired() bool {
	return a.Init.CaptchaAdvised && a.ProcessCaptchaRaised && !a.ProcessCaptchaValidated
}
