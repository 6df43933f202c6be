package policy

import (
	"sync"
	"testing"
)

func TestStoreSetNotifiesSynchronously(t *testing.T) {
	s := NewStore(Always(), nil)

	var got []Policy
	unsubscribe := s.Subscribe(func(previous, current Policy) {
		if previous.Kind != AlwaysConfirm {
			t.Errorf("previous = %s", previous)
		}
		got = append(got, current)
	})

	s.Set(Never())
	if len(got) != 1 || got[0] != Never() {
		t.Fatalf("observer saw %v after Set returned", got)
	}
	if s.Get() != Never() {
		t.Fatalf("Get() = %s", s.Get())
	}

	s.Set(Never())
	if len(got) != 1 {
		t.Fatalf("re-setting the same policy notified observers: %v", got)
	}

	unsubscribe()
	s.Set(Always())
	if len(got) != 1 {
		t.Fatalf("unsubscribed observer still notified: %v", got)
	}
}

func TestStoreObserversInOrder(t *testing.T) {
	s := NewStore(Always(), nil)
	var order []int
	for i := range 3 {
		s.Subscribe(func(_, _ Policy) { order = append(order, i) })
	}
	s.Set(Risky(RiskHigh))
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v", order)
	}
}

func TestStoreObserverMaySet(t *testing.T) {
	s := NewStore(Always(), nil)
	s.Subscribe(func(_, current Policy) {
		if current.Kind == ConfirmRisky {
			s.Set(Never())
		}
	})
	s.Set(Risky(RiskHigh))
	if s.Get() != Never() {
		t.Fatalf("Get() = %s", s.Get())
	}
}

func TestStoreClassify(t *testing.T) {
	s := NewStore(Risky(RiskHigh), nil)

	if r, need := s.Classify("execute_command", map[string]any{RiskArgument: "LOW"}); r != RiskLow || need {
		t.Fatalf("low: risk=%s need=%v", r, need)
	}
	if r, need := s.Classify("execute_command", map[string]any{RiskArgument: "HIGH"}); r != RiskHigh || !need {
		t.Fatalf("high: risk=%s need=%v", r, need)
	}
	if r, need := s.Classify("execute_command", nil); r != RiskUnknown || !need {
		t.Fatalf("unknown: risk=%s need=%v", r, need)
	}

	s.SetAnalyzer(RuleAnalyzer{Rules: []Rule{{Tool: "read_*", Risk: RiskLow}}})
	if r, need := s.Classify("read_file", nil); r != RiskLow || need {
		t.Fatalf("rule: risk=%s need=%v", r, need)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(Always(), nil)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				s.Set(Never())
			} else {
				s.Set(Always())
			}
		}()
		go func() {
			defer wg.Done()
			_ = s.Get()
		}()
	}
	wg.Wait()
}
