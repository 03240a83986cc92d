package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewPolicyHolderDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewPolicyHolder(Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new policy holder: %v", err)
	}

	got := holder.Get()
	if got.OTP.ResendCooldown() != time.Minute {
		t.Fatalf("expected 60s cooldown, got %s", got.OTP.ResendCooldown())
	}
	if len(got.OTP.Escalation) != 3 {
		t.Fatalf("expected 3 escalation steps, got %d", len(got.OTP.Escalation))
	}
	if !got.Sweep.IncludesPaymentURL() {
		t.Fatalf("expected default sweep to include payment_url bookings")
	}
}

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	content := []byte(`policy:
  otp:
    resendCooldownSeconds: 300
    failWindowSeconds: 3600
    escalation:
      - level: 0
        failThreshold: 3
        blockSeconds: 30
  sweep:
    mode: pending_only
    batchSize: 50
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	holder, err := NewPolicyHolder(Config{PolicyFile: path}, zap.NewNop())
	if err != nil {
		t.Fatalf("new policy holder: %v", err)
	}

	got := holder.Get()
	if got.OTP.ResendCooldown() != 5*time.Minute {
		t.Fatalf("expected 300s cooldown, got %s", got.OTP.ResendCooldown())
	}
	if len(got.OTP.Escalation) != 1 || got.OTP.Escalation[0].FailThreshold != 3 {
		t.Fatalf("unexpected escalation %+v", got.OTP.Escalation)
	}
	if got.Sweep.IncludesPaymentURL() {
		t.Fatalf("expected pending_only sweep")
	}
	if got.Sweep.BatchSize != 50 {
		t.Fatalf("expected batch size 50, got %d", got.Sweep.BatchSize)
	}
}

func TestValidatePolicyRejectsUnknownSweepMode(t *testing.T) {
	p := DefaultPolicy()
	p.Sweep.Mode = "everything"
	if err := ValidatePolicy(p); err == nil {
		t.Fatalf("expected error for unknown sweep mode")
	}
}

func TestValidatePolicyRejectsGapInLevels(t *testing.T) {
	p := DefaultPolicy()
	p.OTP.Escalation = []EscalationStep{
		{Level: 0, FailThreshold: 5, BlockSeconds: 60},
		{Level: 2, FailThreshold: 7, BlockSeconds: 900},
	}
	if err := ValidatePolicy(p); err == nil {
		t.Fatalf("expected error for non-contiguous levels")
	}
}
