package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Begin.Mint != nil && s.deps.Verify.Resolve != nil
}

func (s Service) Begin(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	return RunBegin(ctx, req, s.deps.Begin)
}

func (s Service) Verify(ctx context.Context, ticketID, factor, proof string) (*VerifyResult, error) {
	return RunVerify(ctx, ticketID, factor, proof, s.deps.Verify)
}

func (s Service) IssueCode(ctx context.Context, req IssueRequest) error {
	return RunIssueCode(ctx, req, s.deps.Issue)
}
