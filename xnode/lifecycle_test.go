package xnode

import (
	"errors"
	"testing"
)

type fakeService struct {
	name      string
	startErr  error
	stopErr   error
	started   bool
	stopped   bool
	startedAt []string // shared order log, appended on Start
	stoppedAt []string
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start() error {
	s.started = true
	if s.startedAt != nil {
		s.startedAt = append(s.startedAt, s.name)
	}
	return s.startErr
}

func (s *fakeService) Stop() error {
	s.stopped = true
	if s.stoppedAt != nil {
		s.stoppedAt = append(s.stoppedAt, s.name)
	}
	return s.stopErr
}

func TestLifecycleManagerStartsInPriorityOrder(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	order := make([]string, 0, 3)

	svcC := &fakeService{name: "c"}
	svcA := &fakeService{name: "a"}
	svcB := &fakeService{name: "b"}

	if err := lm.Register(svcC, 3); err != nil {
		t.Fatalf("register c: %v", err)
	}
	if err := lm.Register(svcA, 1); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := lm.Register(svcB, 2); err != nil {
		t.Fatalf("register b: %v", err)
	}

	for _, entry := range lm.sortedServices() {
		order = append(order, entry.Svc.Name())
	}
	if want := []string{"a", "b", "c"}; !equalStrings(order, want) {
		t.Fatalf("sortedServices order = %v, want %v", order, want)
	}

	if errs := lm.StartAll(); len(errs) != 0 {
		t.Fatalf("StartAll() errs = %v", errs)
	}
	if lm.RunningCount() != 3 {
		t.Fatalf("RunningCount() = %d, want 3", lm.RunningCount())
	}
	for _, svc := range []*fakeService{svcA, svcB, svcC} {
		if lm.GetState(svc.name) != StateRunning {
			t.Errorf("service %s not running", svc.name)
		}
	}
}

func TestLifecycleManagerRejectsDuplicateName(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	if err := lm.Register(&fakeService{name: "x"}, 0); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := lm.Register(&fakeService{name: "x"}, 1); err == nil {
		t.Fatal("expected error registering duplicate service name")
	}
}

func TestLifecycleManagerStartFailureMarksFailed(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	boom := errors.New("boom")
	svc := &fakeService{name: "broken", startErr: boom}
	if err := lm.Register(svc, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	errs := lm.StartAll()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if lm.GetState("broken") != StateFailed {
		t.Fatalf("state = %v, want StateFailed", lm.GetState("broken"))
	}
}

func TestLifecycleManagerStopAllOnlyStopsRunning(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	svc := &fakeService{name: "never-started"}
	if err := lm.Register(svc, 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	if errs := lm.StopAll(); len(errs) != 0 {
		t.Fatalf("StopAll on non-running service should no-op, got errs %v", errs)
	}
	if svc.stopped {
		t.Fatal("Stop should not be called on a service that never started")
	}
}

func TestLifecycleManagerMaxServices(t *testing.T) {
	lm := NewLifecycleManager(LifecycleConfig{MaxServices: 1})
	if err := lm.Register(&fakeService{name: "one"}, 0); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := lm.Register(&fakeService{name: "two"}, 0); err == nil {
		t.Fatal("expected error exceeding MaxServices")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
