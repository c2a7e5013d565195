package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const launchQuery = "data.miniapp.launch"

// DefaultRegoPolicy allows every launch that passed the static allow-list checks.
const DefaultRegoPolicy = `package miniapp.launch

default allow := true

default reason := ""
`

// OPAEvaluator evaluates launch policies using OPA Rego. Modules are compiled once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles modules (file name → Rego source). Modules must define
// package miniapp.launch with a boolean allow and an optional string reason.
// With no modules, DefaultRegoPolicy is used.
func NewOPAEvaluator(ctx context.Context, modules map[string]string) (*OPAEvaluator, error) {
	if len(modules) == 0 {
		modules = map[string]string{"default_launch.rego": DefaultRegoPolicy}
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile launch policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(launchQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare launch policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// LoadPolicyFile reads a Rego file into a module map for NewOPAEvaluator. An empty path yields nil.
func LoadPolicyFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return map[string]string{path: string(src)}, nil
}

// EvaluateLaunch evaluates the compiled policy. Errors and undefined results deny.
func (e *OPAEvaluator) EvaluateLaunch(ctx context.Context, in LaunchInput) (LaunchDecision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return LaunchDecision{Reason: "policy evaluation failed"}, fmt.Errorf("eval launch policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return LaunchDecision{Reason: "policy undefined"}, errors.New("launch policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return LaunchDecision{Reason: "policy undefined"}, errors.New("launch policy result is not an object")
	}
	out := LaunchDecision{}
	if allow, ok := doc["allow"].(bool); ok {
		out.Allow = allow
	}
	if reason, ok := doc["reason"].(string); ok {
		out.Reason = reason
	}
	return out, nil
}

// HealthCheck evaluates the compiled policy with a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateLaunch(ctx, LaunchInput{})
	return err
}

func buildInput(in LaunchInput) map[string]interface{} {
	scopes := make([]interface{}, 0, len(in.Scopes))
	for _, s := range in.Scopes {
		scopes = append(scopes, s)
	}
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id": in.UserID,
		},
		"app": map[string]interface{}{
			"id":       in.AppID,
			"origin":   in.AppOrigin,
			"scopes":   scopes,
			"sso_mode": in.SSOMode,
		},
		"start_url": in.StartURL,
	}
}
