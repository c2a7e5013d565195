package engine

import "context"

// LaunchInput is the document a launch policy sees as input.
type LaunchInput struct {
	UserID    string
	AppID     string
	AppOrigin string
	Scopes    []string
	SSOMode   string
	StartURL  string
}

// LaunchDecision is the result of launch policy evaluation.
type LaunchDecision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a mini-app launch may proceed.
type Evaluator interface {
	// EvaluateLaunch evaluates the launch policy. Implementations fail closed:
	// any error comes with a deny decision.
	EvaluateLaunch(ctx context.Context, in LaunchInput) (LaunchDecision, error)
}
