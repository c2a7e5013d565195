package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const denyExternalScopesPolicy = `package miniapp.launch

default allow := false

allow if {
	not "wallet:write" in input.app.scopes
}

reason := "scope wallet:write requires review" if {
	"wallet:write" in input.app.scopes
}
`

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultAllows(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	d, err := e.EvaluateLaunch(ctx, LaunchInput{UserID: "u1", AppID: "app-1", Scopes: []string{"profile"}})
	if err != nil {
		t.Fatalf("EvaluateLaunch: %v", err)
	}
	if !d.Allow {
		t.Errorf("default policy should allow, got %+v", d)
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, map[string]string{"custom.rego": denyExternalScopesPolicy})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}

	d, err := e.EvaluateLaunch(ctx, LaunchInput{UserID: "u1", AppID: "app-1", Scopes: []string{"profile"}})
	if err != nil {
		t.Fatalf("EvaluateLaunch: %v", err)
	}
	if !d.Allow {
		t.Errorf("profile scope should be allowed, got %+v", d)
	}

	d, err = e.EvaluateLaunch(ctx, LaunchInput{UserID: "u1", AppID: "app-2", Scopes: []string{"wallet:write"}})
	if err != nil {
		t.Fatalf("EvaluateLaunch: %v", err)
	}
	if d.Allow {
		t.Error("wallet:write scope should be denied")
	}
	if d.Reason != "scope wallet:write requires review" {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestOPAEvaluator_NonBooleanAllowDenies(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, map[string]string{"odd.rego": "package miniapp.launch\n\nallow := \"yes\"\n"})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	d, err := e.EvaluateLaunch(ctx, LaunchInput{})
	if err != nil {
		t.Fatalf("EvaluateLaunch: %v", err)
	}
	if d.Allow {
		t.Error("non-boolean allow must deny")
	}
}

func TestNewOPAEvaluator_CompileError(t *testing.T) {
	_, err := NewOPAEvaluator(context.Background(), map[string]string{"bad.rego": "package miniapp.launch\n\nallow if {"})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestLoadPolicyFile(t *testing.T) {
	mods, err := LoadPolicyFile("")
	if err != nil || mods != nil {
		t.Fatalf("LoadPolicyFile(\"\") = %v, %v", mods, err)
	}

	path := filepath.Join(t.TempDir(), "launch.rego")
	if err := os.WriteFile(path, []byte(denyExternalScopesPolicy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mods, err = LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if mods[path] != denyExternalScopesPolicy {
		t.Error("module source mismatch")
	}

	if _, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("missing file should fail")
	}
}
