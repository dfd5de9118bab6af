package vault

import (
	"os"
	"testing"
)

func TestLoadSeedFallsBackToEnv(t *testing.T) {
	v := New("mallard-test")
	envKey := envVarName("mallard-test", "realm1")
	os.Setenv(envKey, "seed-value")
	t.Cleanup(func() { os.Unsetenv(envKey) })

	token, ok, err := v.LoadSeed("realm1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || token != "seed-value" {
		t.Fatalf("expected env fallback to surface seed-value, got ok=%v token=%q", ok, token)
	}
}

func TestLoadSeedAbsentReturnsNotOK(t *testing.T) {
	v := New("mallard-test")
	_, ok, err := v.LoadSeed("nonexistent-realm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an absent seed")
	}
}

func TestEnvVarNameFormat(t *testing.T) {
	if got := envVarName("mallard", "prod"); got != "MALLARD_SEED_PROD" {
		t.Fatalf("got %q", got)
	}
}
