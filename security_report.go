package stepup

import (
	"sort"

	"github.com/MrEthical07/stepup/internal/security"
)

// SecurityReport is a configuration-derived summary of the engine's posture.
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	factors := make([]string, 0, len(e.verifiers))
	for f := range e.verifiers {
		factors = append(factors, string(f))
	}
	sort.Strings(factors)

	homeCountry := e.config.Policy.HomeCountry
	if pe, ok := e.policy.(*PolicyEngine); ok {
		homeCountry = pe.HomeCountry()
	}

	return security.BuildReport(security.ReportInput{
		HomeCountry:        homeCountry,
		CustomPolicy:       e.customPolicy,
		TicketTTL:          e.config.Flow.TicketTTL,
		VerifyLimit:        e.config.RateLimit.Verify.Limit,
		VerifyWindow:       e.config.RateLimit.Verify.Window,
		IssueLimit:         e.config.RateLimit.Issue.Limit,
		IssueWindow:        e.config.RateLimit.Issue.Window,
		RateLimitBackend:   e.config.RateLimit.Backend,
		DeviceTrustEnabled: e.config.DeviceTrust.Enabled,
		DeviceTrustTTL:     e.config.DeviceTrust.TTL,
		OTPDigits:          e.config.OTP.Digits,
		OTPTTL:             e.config.OTP.TTL,
		GrantsEnabled:      e.grants != nil,
		GrantSigningMethod: e.config.Grant.SigningMethod,
		GrantTTL:           e.config.Grant.TTL,
		AuditEnabled:       e.audit != nil,
		VerifiedFactors:    factors,
		Warnings:           e.config.Lint().Codes(),
	})
}
