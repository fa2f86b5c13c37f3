package xnode

import (
	"testing"
	"time"

	"github.com/xornet/xornet/blscrypto"
	"github.com/xornet/xornet/log"
)

func TestKnowledgeHealthCheckUnhealthyBeforeJoin(t *testing.T) {
	cfg := testConfig(t, true)
	keys, _, err := blscrypto.GenerateKeySet(1, 1)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}

	n, err := New(cfg, keys.PublicKey(), log.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	check := NewKnowledgeHealthCheck(n)
	h := check.Check()
	if h.Status != StatusUnhealthy {
		t.Fatalf("status = %q, want %q before Knowledge is populated", h.Status, StatusUnhealthy)
	}
}

func TestKnowledgeHealthCheckHealthyAfterGenesis(t *testing.T) {
	cfg := testConfig(t, true)
	keys, _, err := blscrypto.GenerateKeySet(1, 1)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}

	n, err := New(cfg, keys.PublicKey(), log.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := n.FormGenesis(); err != nil {
		t.Fatalf("FormGenesis: %v", err)
	}

	check := NewKnowledgeHealthCheck(n)
	h := check.Check()
	if h.Status != StatusHealthy {
		t.Fatalf("status = %q, want %q after genesis, message: %s", h.Status, StatusHealthy, h.Message)
	}
}

func TestNewRegistersAntiEntropyServiceAndHealthCheck(t *testing.T) {
	cfg := testConfig(t, true)
	keys, _, err := blscrypto.GenerateKeySet(1, 1)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}

	n, err := New(cfg, keys.PublicKey(), log.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n.Lifecycle.GetState("anti-entropy") != StateCreated {
		t.Fatalf("expected anti-entropy service to be registered, state = %v", n.Lifecycle.GetState("anti-entropy"))
	}

	report := n.Health.Check()
	if len(report.Subsystems) != 1 || report.Subsystems[0].Name != "knowledge" {
		t.Fatalf("expected knowledge subsystem to be registered, got %+v", report.Subsystems)
	}
}

func TestAntiEntropyServiceStartStop(t *testing.T) {
	cfg := testConfig(t, true)
	keys, _, err := blscrypto.GenerateKeySet(1, 1)
	if err != nil {
		t.Fatalf("GenerateKeySet: %v", err)
	}

	n, err := New(cfg, keys.PublicKey(), log.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	check := NewKnowledgeHealthCheck(n)
	svc := NewAntiEntropyService(n, check, 5*time.Millisecond)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
