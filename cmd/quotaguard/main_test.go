package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func cliEnv(t *testing.T) {
	t.Helper()
	t.Setenv("QUOTAGUARD_DATABASE_DRIVER", "sqlite")
	t.Setenv("QUOTAGUARD_DATABASE_DSN", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("QUOTAGUARD_AUTH_HASHER", "sha256")
	t.Setenv("QUOTAGUARD_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	base := []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "--env-file", ""}
	rootCmd.SetArgs(append(base, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func secretFrom(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if s := strings.TrimSpace(line); strings.HasPrefix(s, "vk_") {
			return s
		}
	}
	t.Fatalf("no secret in output:\n%s", out)
	return ""
}

func TestCLI_KeyLifecycle(t *testing.T) {
	cliEnv(t)

	out := mustRun(t, "users", "add", "--id", "u1", "--email", "u1@example.com", "--plan", "pro")
	if !strings.Contains(out, "Created user u1") {
		t.Errorf("users add output = %q", out)
	}

	out = mustRun(t, "users", "list")
	if !strings.Contains(out, "u1@example.com") {
		t.Errorf("users list missing u1:\n%s", out)
	}

	out = mustRun(t, "keys", "generate", "--user", "u1", "--name", "ci", "--scope", "*")
	secret := secretFrom(t, out)

	out = mustRun(t, "keys", "validate", secret)
	if !strings.Contains(out, "Key is valid") || !strings.Contains(out, "u1") {
		t.Errorf("keys validate output = %q", out)
	}

	out = mustRun(t, "keys", "list", "--user", "u1")
	if !strings.Contains(out, "active") || !strings.Contains(out, secret[:12]) {
		t.Errorf("keys list output = %q", out)
	}

	if _, err := run(t, "keys", "validate", "vk_"+strings.Repeat("0", 64)); err == nil {
		t.Error("validate of unknown secret should fail")
	}
}

func TestCLI_LimitsEvaluate(t *testing.T) {
	cliEnv(t)
	mustRun(t, "users", "add", "--id", "u2", "--email", "u2@example.com", "--plan", "starter")

	out := mustRun(t, "limits", "evaluate", "--user", "u2", "--endpoint", "/search")
	if !strings.Contains(out, "allowed") {
		t.Errorf("evaluate output = %q, want allowed", out)
	}
	if !strings.Contains(out, "quota remaining: 999") {
		t.Errorf("evaluate output = %q, want quota remaining 999", out)
	}

	out = mustRun(t, "limits", "status", "--user", "u2")
	if !strings.Contains(out, "plan starter") {
		t.Errorf("status output = %q", out)
	}

	out = mustRun(t, "alerts", "check", "--user", "u2")
	if !strings.Contains(out, "No pending alert") {
		t.Errorf("alerts check output = %q", out)
	}
}

func TestCLI_RevokeAbortsWithoutConfirmation(t *testing.T) {
	cliEnv(t)

	out := mustRun(t, "keys", "revoke", "key_missing")
	if !strings.Contains(out, "Aborted.") {
		t.Errorf("revoke output = %q, want Aborted.", out)
	}
}

func TestCLI_PlansAndValidate(t *testing.T) {
	cliEnv(t)

	out := mustRun(t, "plans", "list")
	for _, want := range []string{"starter (default)", "pro", "enterprise", "100000"} {
		if !strings.Contains(out, want) {
			t.Errorf("plans list missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "validate")
	if !strings.Contains(out, "Configuration valid (environment)") {
		t.Errorf("validate output = %q", out)
	}
}

func TestCLI_ValidateRejectsBadConfig(t *testing.T) {
	cliEnv(t)
	t.Setenv("QUOTAGUARD_COUNTERS_BACKEND", "etcd")

	out, err := run(t, "validate")
	if err == nil {
		t.Fatal("validate should fail for unknown counter backend")
	}
	if !strings.Contains(out, "Configuration invalid") {
		t.Errorf("validate output = %q", out)
	}
}

func TestLoadDotEnv(t *testing.T) {
	// Register for restore, then clear so the file can supply it.
	t.Setenv("QUOTAGUARD_DEFAULT_PLAN", "")
	os.Unsetenv("QUOTAGUARD_DEFAULT_PLAN")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("QUOTAGUARD_DEFAULT_PLAN=pro\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("QUOTAGUARD_DEFAULT_PLAN"); got != "pro" {
		t.Errorf("QUOTAGUARD_DEFAULT_PLAN = %q, want pro", got)
	}

	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}
