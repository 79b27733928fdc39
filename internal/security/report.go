package security

import "time"

// Report summarizes the security posture of a configured step-up engine.
type Report struct {
	HomeCountry           string
	CustomPolicy          bool
	TicketTTL             time.Duration
	VerifyLimit           int
	VerifyWindow          time.Duration
	IssueLimit            int
	IssueWindow           time.Duration
	SharedRateLimits      bool
	DeviceTrustEnabled    bool
	DeviceTrustTTL        time.Duration
	OTPDigits             int
	OTPTTL                time.Duration
	GrantsEnabled         bool
	GrantSigningAlgorithm string
	GrantTTL              time.Duration
	AuditEnabled          bool
	VerifiedFactors       []string
	// BruteForceBudget is the number of proofs one user can submit for one
	// factor over a ticket's lifetime.
	BruteForceBudget int
	Warnings         []string
}

type ReportInput struct {
	HomeCountry        string
	CustomPolicy       bool
	TicketTTL          time.Duration
	VerifyLimit        int
	VerifyWindow       time.Duration
	IssueLimit         int
	IssueWindow        time.Duration
	RateLimitBackend   string
	DeviceTrustEnabled bool
	DeviceTrustTTL     time.Duration
	OTPDigits          int
	OTPTTL             time.Duration
	GrantsEnabled      bool
	GrantSigningMethod string
	GrantTTL           time.Duration
	AuditEnabled       bool
	VerifiedFactors    []string
	Warnings           []string
}

func BuildReport(input ReportInput) Report {
	budget := 0
	if input.VerifyLimit > 0 && input.VerifyWindow > 0 {
		budget = input.VerifyLimit + int(int64(input.TicketTTL)*int64(input.VerifyLimit)/int64(input.VerifyWindow))
	}

	report := Report{
		HomeCountry:        input.HomeCountry,
		CustomPolicy:       input.CustomPolicy,
		TicketTTL:          input.TicketTTL,
		VerifyLimit:        input.VerifyLimit,
		VerifyWindow:       input.VerifyWindow,
		IssueLimit:         input.IssueLimit,
		IssueWindow:        input.IssueWindow,
		SharedRateLimits:   input.RateLimitBackend != "memory",
		DeviceTrustEnabled: input.DeviceTrustEnabled,
		OTPDigits:          input.OTPDigits,
		OTPTTL:             input.OTPTTL,
		GrantsEnabled:      input.GrantsEnabled,
		AuditEnabled:       input.AuditEnabled,
		VerifiedFactors:    append([]string(nil), input.VerifiedFactors...),
		BruteForceBudget:   budget,
		Warnings:           append([]string(nil), input.Warnings...),
	}
	if input.DeviceTrustEnabled {
		report.DeviceTrustTTL = input.DeviceTrustTTL
	}
	if input.GrantsEnabled {
		report.GrantSigningAlgorithm = input.GrantSigningMethod
		report.GrantTTL = input.GrantTTL
	}
	return report
}
