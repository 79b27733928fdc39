package stepup

import "strings"

// botScoreThreshold is the score below which a request is treated as
// automated.
const botScoreThreshold = 30

// Policy maps a risk snapshot to the factors a user must present.
type Policy interface {
	Decide(rc RiskContext) Decision
}

// PolicyEngine is the built-in risk-adaptive decision tree. It is stateless
// after construction and safe for concurrent use.
type PolicyEngine struct {
	homeCountry string
}

// NewPolicyEngine returns a PolicyEngine that treats every country other than
// homeCountry as foreign. Country codes compare case-insensitively.
func NewPolicyEngine(homeCountry string) (*PolicyEngine, error) {
	home := strings.ToUpper(strings.TrimSpace(homeCountry))
	if home == "" {
		return nil, ErrHomeCountryRequired
	}
	return &PolicyEngine{homeCountry: home}, nil
}

// HomeCountry returns the normalized home country code.
func (p *PolicyEngine) HomeCountry() string {
	return p.homeCountry
}

// Decide evaluates the decision tree. It is total: every input yields a
// Decision with a non-empty Required list.
func (p *PolicyEngine) Decide(rc RiskContext) Decision {
	botty := isBotty(rc)
	foreign := !strings.EqualFold(rc.Country, p.homeCountry)
	sensitive := rc.Action.Sensitive()
	unfamiliar := !rc.DeviceTrusted || foreign || botty

	challenge := BotChallengeNone
	if botty {
		challenge = BotChallengeTurnstile
	}

	if rc.Factors.Passkey && !unfamiliar && !sensitive {
		return Decision{
			Required:       []Factor{FactorPasskey},
			Fallback:       []Factor{FactorTOTP, FactorOTP, FactorPIN},
			RememberDevice: true,
		}
	}

	if sensitive || unfamiliar {
		switch {
		case rc.Factors.Passkey && rc.Factors.TOTP:
			return Decision{
				Required:     []Factor{FactorPasskey, FactorTOTP},
				Fallback:     []Factor{FactorOTP, FactorPIN},
				BotChallenge: challenge,
			}
		case rc.Factors.TOTP:
			return Decision{
				Required:     []Factor{FactorTOTP},
				Fallback:     []Factor{FactorOTP, FactorPIN},
				BotChallenge: challenge,
			}
		default:
			return Decision{
				Required:     []Factor{FactorOTP},
				Fallback:     []Factor{FactorPIN},
				BotChallenge: challenge,
			}
		}
	}

	// Reachable only when passkey is not enrolled and the request is neither
	// sensitive nor unfamiliar, so botty is always false here.
	return Decision{
		Required:       []Factor{FactorTOTP},
		Fallback:       []Factor{FactorOTP, FactorPIN},
		RememberDevice: true,
		BotChallenge:   challenge,
	}
}

func isBotty(rc RiskContext) bool {
	return rc.BotScoreKnown && rc.BotScore < botScoreThreshold
}

// PolicyRule transforms a draft decision. Rules receive a private copy of the
// draft and may return it modified or replace it outright.
type PolicyRule func(rc RiskContext, draft Decision) Decision

// RulePolicy is a Policy composed from an ordered list of rules.
type RulePolicy struct {
	rules []PolicyRule
}

// NewRulePolicy composes rules in list order over the baseline decision
// (TOTP required, OTP then PIN as fallback, remember device). When several
// rules set the same field, the last one wins.
func NewRulePolicy(rules ...PolicyRule) *RulePolicy {
	own := make([]PolicyRule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			own = append(own, r)
		}
	}
	return &RulePolicy{rules: own}
}

func baselineDecision() Decision {
	return Decision{
		Required:       []Factor{FactorTOTP},
		Fallback:       []Factor{FactorOTP, FactorPIN},
		RememberDevice: true,
	}
}

func (p *RulePolicy) Decide(rc RiskContext) Decision {
	d := baselineDecision()
	for _, rule := range p.rules {
		d = rule(rc, d.Clone())
	}
	return d.Clone()
}

// RequireFactors replaces the required list with factors when the action
// matches.
func RequireFactors(action Action, factors ...Factor) PolicyRule {
	want := cloneFactors(factors)
	return func(rc RiskContext, d Decision) Decision {
		if rc.Action == action && len(want) > 0 {
			d.Required = cloneFactors(want)
		}
		return d
	}
}

// ForbidRememberWhenForeign disables remember-device for requests outside
// homeCountry.
func ForbidRememberWhenForeign(homeCountry string) PolicyRule {
	home := strings.TrimSpace(homeCountry)
	return func(rc RiskContext, d Decision) Decision {
		if !strings.EqualFold(rc.Country, home) {
			d.RememberDevice = false
		}
		return d
	}
}

// TurnstileBelow asks for a Turnstile challenge when the bot score is known
// and below threshold.
func TurnstileBelow(threshold float64) PolicyRule {
	return func(rc RiskContext, d Decision) Decision {
		if rc.BotScoreKnown && rc.BotScore < threshold {
			d.BotChallenge = BotChallengeTurnstile
		}
		return d
	}
}
